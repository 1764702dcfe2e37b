package couchdb

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ViewDefinition is a code-declared aggregation view. Map and Reduce are
// the JavaScript sources executed by the server; Version is a structural
// tag bumped whenever either source changes meaningfully. Synchronization
// compares versions, not source text, so reformatting a function body never
// causes a spurious resync.
type ViewDefinition struct {
	DesignDoc string
	Name      string
	Version   string
	Map       string
	Reduce    string
}

// ViewSource is one stored view inside a design document.
type ViewSource struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// DesignDoc is the stored container for a set of views. Versions is our own
// bookkeeping field; CouchDB ignores fields it does not know.
type DesignDoc struct {
	Meta
	Language string                `json:"language"`
	Views    map[string]ViewSource `json:"views"`
	Versions map[string]string     `json:"versions,omitempty"`
}

// EnsureViews makes the stored definition of every declared view match the
// code-declared one, creating design documents as needed.
//
// Synchronization is best-effort: a failure on one design document is
// logged and the rest are still processed, and the caller's primary
// operation proceeds either way. Log ingestion must never fail because an
// aggregation view is out of date; a stale view only means stale counts
// until the next sync. Repeat calls with unchanged definitions perform no
// writes.
func (c *Client) EnsureViews(ctx context.Context, dbName string, defs []ViewDefinition) {
	db := c.DB(dbName)

	byDoc := make(map[string][]ViewDefinition)
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, seen := byDoc[def.DesignDoc]; !seen {
			order = append(order, def.DesignDoc)
		}
		byDoc[def.DesignDoc] = append(byDoc[def.DesignDoc], def)
	}

	for _, docName := range order {
		if err := db.syncDesignDoc(ctx, docName, byDoc[docName]); err != nil {
			c.log.Warn("failed to synchronize design document",
				zap.String("database", dbName),
				zap.String("design_doc", docName),
				zap.Error(err))
		}
	}
}

func (d *Database) syncDesignDoc(ctx context.Context, docName string, defs []ViewDefinition) error {
	id := "_design/" + docName

	var doc DesignDoc
	err := d.Get(ctx, id, "", &doc)
	switch {
	case errors.Is(err, ErrNotFound):
		// Absent just means a fresh, empty container.
		doc = DesignDoc{Language: "javascript"}
		doc.ID = id
	case err != nil:
		return err
	}

	if doc.Views == nil {
		doc.Views = make(map[string]ViewSource)
	}
	if doc.Versions == nil {
		doc.Versions = make(map[string]string)
	}

	dirty := false
	for _, def := range defs {
		_, exists := doc.Views[def.Name]
		if exists && doc.Versions[def.Name] == def.Version {
			continue
		}

		doc.Views[def.Name] = ViewSource{Map: def.Map, Reduce: def.Reduce}
		doc.Versions[def.Name] = def.Version
		dirty = true
	}

	if !dirty {
		return nil
	}

	return d.Update(ctx, id, &doc, doc.Rev)
}
