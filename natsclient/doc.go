// Package natsclient wraps a NATS connection as one bus session of a
// polestream process.
//
// A Client is built around a Handler selected at construction. The handler
// receives OnConnect after the first successful connect and after every
// reconnect, OnMessage for each delivered message, and OnDisconnect when the
// link drops. Each session reconnects on its own; a bridge holding a local and
// a central session never couples the two.
//
// Components speak in slash-separated topics ("poleData/Lombardia/7") and use
// "#" and "+" as multi- and single-level wildcards. The client maps topics to
// NATS subjects with TopicToSubject and back with SubjectToTopic, escaping
// characters that are not legal inside a subject token.
//
// Publish is at-most-once. While the session is not connected it returns an
// error wrapping ErrNotConnected instead of buffering.
//
//	client, err := natsclient.NewClient("nats://127.0.0.1:4222", handler,
//	    natsclient.WithName("local"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// JetStream helpers (CreateKeyValueBucket, CreateStream, PublishToStream) back
// the catalog's KV snapshot store and the JetStream point sink.
package natsclient
