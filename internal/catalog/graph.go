package catalog

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pbaille/reads/internal/domain"
)

const listWorksQuery = `
MATCH (w:Work)
OPTIONAL MATCH (w)-[r:HAS_CONCEPT]->(c:Concept)
RETURN w.id AS id,
       coalesce(w.title, '') AS title,
       coalesce(w.author, '') AS author,
       coalesce(w.age, '') AS age,
       collect({concept: c.id, weight: r.weight}) AS concepts
ORDER BY title, id`

const importWorksQuery = `
UNWIND $works AS w
MERGE (n:Work {id: w.id})
SET n.title = w.title, n.author = w.author, n.age = w.age
WITH n, w
OPTIONAL MATCH (n)-[old:HAS_CONCEPT]->()
DELETE old
WITH DISTINCT n, w
UNWIND w.concepts AS wc
MERGE (c:Concept {id: wc.concept})
MERGE (n)-[r:HAS_CONCEPT]->(c)
SET r.weight = wc.weight`

// GraphConfig locates a Neo4j database
type GraphConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

// GraphSource reads works and their HAS_CONCEPT edges from Neo4j
type GraphSource struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewGraphSource connects to Neo4j and verifies the connection
func NewGraphSource(ctx context.Context, cfg GraphConfig) (*GraphSource, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connect %s: %w", cfg.URI, err)
	}
	return &GraphSource{driver: driver, database: cfg.Database}, nil
}

func (g *GraphSource) ListAll(ctx context.Context) ([]domain.Work, error) {
	res, err := neo4j.ExecuteQuery(ctx, g.driver, listWorksQuery, nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}

	works := make([]domain.Work, 0, len(res.Records))
	for _, rec := range res.Records {
		w, err := decodeWork(rec)
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return works, nil
}

// Import merges works, their concepts and weighted HAS_CONCEPT edges.
// Existing edges of an imported work are replaced.
func (g *GraphSource) Import(ctx context.Context, works []domain.Work) error {
	if err := check(works); err != nil {
		return err
	}
	_, err := neo4j.ExecuteQuery(ctx, g.driver, importWorksQuery,
		map[string]any{"works": importParams(works)},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	)
	if err != nil {
		return fmt.Errorf("import works: %w", err)
	}
	return nil
}

func (g *GraphSource) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func importParams(works []domain.Work) []any {
	out := make([]any, len(works))
	for i, w := range works {
		concepts := make([]any, 0, len(w.Concepts))
		for _, c := range w.Concepts.Keys() {
			concepts = append(concepts, map[string]any{"concept": c, "weight": w.Concepts[c]})
		}
		out[i] = map[string]any{
			"id":       w.ID,
			"title":    w.Title,
			"author":   w.Author,
			"age":      w.Age,
			"concepts": concepts,
		}
	}
	return out
}

func decodeWork(rec *neo4j.Record) (domain.Work, error) {
	var w domain.Work
	var err error
	if w.ID, _, err = neo4j.GetRecordValue[string](rec, "id"); err != nil {
		return w, fmt.Errorf("work id: %w", err)
	}
	if w.Title, _, err = neo4j.GetRecordValue[string](rec, "title"); err != nil {
		return w, fmt.Errorf("work %s title: %w", w.ID, err)
	}
	if w.Author, _, err = neo4j.GetRecordValue[string](rec, "author"); err != nil {
		return w, fmt.Errorf("work %s author: %w", w.ID, err)
	}
	if w.Age, _, err = neo4j.GetRecordValue[string](rec, "age"); err != nil {
		return w, fmt.Errorf("work %s age: %w", w.ID, err)
	}

	w.Concepts = domain.ConceptVector{}
	raw, _ := rec.Get("concepts")
	items, _ := raw.([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["concept"].(string)
		if name == "" {
			continue
		}
		switch v := m["weight"].(type) {
		case float64:
			w.Concepts[name] = v
		case int64:
			w.Concepts[name] = float64(v)
		}
	}
	return w, nil
}
