// Package mongo implements store.Store on MongoDB with the official v2
// driver. Each job is one document; claims, heartbeats and finishes are
// single-document atomic updates filtered on state and lock token, so no
// transactions or replica set are required.
//
//	s, err := mongo.New("mongodb://localhost:27017", "jobq")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
