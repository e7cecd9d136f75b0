package txn

import "go.mongodb.org/mongo-driver/bson"

// UpdateWithVersion applies update to the document matched by filter AND
// version == expectedVersion. It only adds the version clause to the
// filter; update itself must bump version by exactly one (for example
// {"$inc": {"version": 1}}). Per spec.md §4.2: if the match fails because the row exists with
// a different version, the caller gets ErrVersionConflict instead of a
// silent no-op.
func (t *Transaction) UpdateWithVersion(collection string, filter bson.M, expectedVersion int64, update bson.M, existsFilter bson.M) error {
	versioned := bson.M{}
	for k, v := range filter {
		versioned[k] = v
	}
	versioned["version"] = expectedVersion

	res, err := t.UpdateOne(collection, versioned, update, false)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// No match at the expected version: distinguish "document missing" from
	// "version conflict" by checking existence under the caller's base
	// filter (without the version clause).
	var probe bson.M
	if err := t.FindOne(collection, existsFilter, &probe); err != nil {
		return err
	}
	return ErrVersionConflict
}
