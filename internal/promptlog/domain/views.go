package domain

import "github.com/smallbiznis/geodirect/internal/couchdb"

const (
	// DesignDocName holds both log views.
	DesignDocName = "list"

	CountByTimestampView = "count-by-timestamp"
	CountByGeodirectView = "count-by-geodirect"
)

// The reduce functions below follow CouchDB's two-mode contract: with
// rereduce false the values are raw per-document emissions and the result
// must be their count, with rereduce true the values are prior reduce
// outputs and the result must combine them. Getting either mode wrong
// silently corrupts counts once the view b-tree grows past one node.

const countByTimestampMap = `function (doc) {
    emit(doc.timestamp);
}`

const countByTimestampReduce = `function (keys, values, rereduce) {
    if (rereduce) {
        return sum(values);
    }

    return values.length;
}`

const countByGeodirectMap = `function (doc) {
    emit(doc.geodirect_id);
}`

// First pass builds {geodirect_id: count} from the emitted keys; the
// combining pass merges those mappings by summing counts per id.
const countByGeodirectReduce = `function (keys, values, rereduce) {
    if (!rereduce) {
        var counts = {};
        keys.forEach(function (key) {
            var id = key[0];
            counts[id] = (counts[id] || 0) + 1;
        });

        return counts;
    }

    var merged = {};
    values.forEach(function (counts) {
        for (var id in counts) {
            merged[id] = (merged[id] || 0) + counts[id];
        }
    });

    return merged;
}`

// ViewDefinitions declares the aggregation views every log database must
// carry. Bump a Version whenever its map or reduce source changes in
// meaning; synchronization compares versions, not source text.
func ViewDefinitions() []couchdb.ViewDefinition {
	return []couchdb.ViewDefinition{
		{
			DesignDoc: DesignDocName,
			Name:      CountByTimestampView,
			Version:   "1",
			Map:       countByTimestampMap,
			Reduce:    countByTimestampReduce,
		},
		{
			DesignDoc: DesignDocName,
			Name:      CountByGeodirectView,
			Version:   "1",
			Map:       countByGeodirectMap,
			Reduce:    countByGeodirectReduce,
		},
	}
}
