// Package retry provides exponential backoff for calls that fail transiently.
//
// Only transient failures are retried. An error classified as invalid or
// fatal by the errors package (a zone conflict, a missing field) stops the
// loop on the first attempt, because asking again cannot change the answer.
//
//	var cfg catalog.BrokerConfig
//	err := retry.Do(ctx, retry.Startup(), func() error {
//	    var err error
//	    cfg, err = client.BrokerConfig(ctx, catalog.BrokerCentral, "")
//	    return err
//	})
package retry
