package probe

import (
	"encoding/json"
	"math"
	"path"
	"strings"
	"unicode"

	"golang.org/x/mod/modfile"

	"github.com/sells-group/forgescore/internal/ledger"
	"github.com/sells-group/forgescore/internal/model"
)

// Stack categories.
const (
	CategoryAuth           = "auth"
	CategoryDatabase       = "database"
	CategoryAPI            = "api"
	CategoryPayments       = "payments"
	CategoryBackgroundJobs = "background_jobs"
	CategoryTesting        = "testing"
	CategoryCI             = "ci"
)

// stackLibraries maps each category to dependency names that indicate it.
// A name matches a dependency exactly, as a path segment, or as a
// "-"/"_"/"." separated token.
var stackLibraries = map[string][]string{
	CategoryAuth: {
		"next-auth", "passport", "@clerk", "auth0", "jsonwebtoken", "jwt", "golang-jwt",
		"oauth2", "lucia", "keycloak", "authlib", "flask-login", "django-allauth", "supertokens",
	},
	CategoryDatabase: {
		"pg", "postgres", "postgresql", "mysql", "mysql2", "mongodb", "mongoose", "prisma",
		"@prisma", "drizzle-orm", "sequelize", "typeorm", "knex", "redis", "ioredis",
		"sqlalchemy", "psycopg2", "psycopg", "pgx", "gorm", "sqlite", "sqlite3", "pq",
	},
	CategoryAPI: {
		"express", "fastify", "koa", "hono", "@nestjs", "graphql", "apollo-server",
		"@trpc", "fastapi", "flask", "django", "djangorestframework", "chi", "gin", "echo",
		"fiber", "mux", "grpc",
	},
	CategoryPayments: {
		"stripe", "paypal", "braintree", "lemonsqueezy", "paddle", "square",
	},
	CategoryBackgroundJobs: {
		"bull", "bullmq", "agenda", "celery", "rq", "dramatiq", "temporal", "asynq",
		"river", "machinery", "inngest", "sidekiq",
	},
	CategoryTesting: {
		"jest", "vitest", "mocha", "cypress", "playwright", "@playwright", "pytest",
		"testify", "ginkgo", "gomega", "@testing-library", "supertest",
	},
	CategoryCI: {
		"husky", "semantic-release", "lint-staged", "@commitlint", "@changesets",
		"pre-commit", "tox", "nox",
	},
}

// StackDepth is the set of categories a manifest covers.
type StackDepth struct {
	Manifest   string          `json:"manifest"`
	Categories map[string]bool `json:"categories"`
}

// Count returns the number of categories detected.
func (s StackDepth) Count() int {
	n := 0
	for _, ok := range s.Categories {
		if ok {
			n++
		}
	}
	return n
}

// Confidence is min(1, categories/4).
func (s StackDepth) Confidence() float64 {
	return math.Min(1, float64(s.Count())/4)
}

// InferStack extracts dependency names from a manifest and matches them
// against known libraries. The manifest format is chosen by file name:
// package.json, go.mod and requirements.txt are parsed, anything else is
// scanned as raw text.
func InferStack(name, content string) StackDepth {
	var deps []string
	switch strings.ToLower(path.Base(name)) {
	case "package.json":
		deps = packageJSONDeps(content)
	case "go.mod":
		deps = goModDeps(name, content)
	case "requirements.txt":
		deps = requirementsDeps(content)
	}
	if deps == nil {
		deps = rawTokens(content)
	}

	out := StackDepth{Manifest: name, Categories: make(map[string]bool)}
	for _, dep := range deps {
		dep = strings.ToLower(strings.TrimSpace(dep))
		if dep == "" {
			continue
		}
		for cat, libs := range stackLibraries {
			if out.Categories[cat] {
				continue
			}
			for _, lib := range libs {
				if matchesLibrary(dep, lib) {
					out.Categories[cat] = true
					break
				}
			}
		}
	}
	return out
}

func matchesLibrary(dep, lib string) bool {
	if dep == lib || strings.HasPrefix(dep, lib+"/") || strings.HasSuffix(dep, "/"+lib) ||
		strings.Contains(dep, "/"+lib+"/") {
		return true
	}
	if strings.HasPrefix(lib, "@") {
		return false
	}
	for _, tok := range strings.FieldsFunc(dep, func(r rune) bool {
		return r == '/' || r == '-' || r == '_' || r == '.' || r == '@'
	}) {
		if tok == lib {
			return true
		}
	}
	return false
}

func packageJSONDeps(content string) []string {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return nil
	}
	out := make([]string, 0, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for dep := range pkg.Dependencies {
		out = append(out, dep)
	}
	for dep := range pkg.DevDependencies {
		out = append(out, dep)
	}
	return out
}

func goModDeps(name, content string) []string {
	f, err := modfile.ParseLax(name, []byte(content), nil)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(f.Require))
	for _, r := range f.Require {
		out = append(out, r.Mod.Path)
	}
	return out
}

func requirementsDeps(content string) []string {
	out := []string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		if i := strings.IndexAny(line, "=<>!~;[ "); i >= 0 {
			line = line[:i]
		}
		out = append(out, line)
	}
	return out
}

func rawTokens(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '@' || r == '/' || r == '.')
	})
}

// Evidence returns a STACK_DEPTH_INFERRED row, or false when no category was
// detected.
func (s StackDepth) Evidence(builderID, projectID, deliveryID string) (ledger.IngestParams, bool) {
	n := s.Count()
	if n == 0 {
		return ledger.IngestParams{}, false
	}
	return ledger.IngestParams{
		BuilderID:  builderID,
		ProjectID:  projectID,
		DeliveryID: deliveryID,
		Type:       model.EvidenceStackDepthInferred,
		Source:     model.SourceProbeStack,
		Payload: &model.StackDepthPayload{
			Manifest:       s.Manifest,
			Auth:           s.Categories[CategoryAuth],
			Database:       s.Categories[CategoryDatabase],
			API:            s.Categories[CategoryAPI],
			Payments:       s.Categories[CategoryPayments],
			BackgroundJobs: s.Categories[CategoryBackgroundJobs],
			Testing:        s.Categories[CategoryTesting],
			CI:             s.Categories[CategoryCI],
			Categories:     n,
		},
		Confidence: s.Confidence(),
	}, true
}
