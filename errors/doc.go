// Package errors provides standardized error handling for polestream services.
//
// # Overview
//
// Every error that crosses a component boundary carries two pieces of
// information:
//
//   - a handling class (transient, invalid, fatal) used for retry decisions
//   - a domain kind (InvalidArgument, Conflict, NotFound, AlreadyExists,
//     Unavailable, MalformedMessage) used to pick an API status code
//
// Kinds survive wrapping and round-trip through HTTP: the catalog handler turns
// a Conflict into a 409 with HTTPStatus, and the catalog client turns the 409
// back into an error that satisfies errors.Is(err, ErrConflict).
//
// # Usage
//
//	if gw.Zone == zone && gw.ID != id {
//	    return errors.New(errors.KindConflict, "Registry", "RegisterGateway",
//	        "zone %q already owned by %s", zone, gw.ID)
//	}
//
//	if err := store.Save(ctx, data); err != nil {
//	    return errors.WrapTransient(err, "Registry", "commit", "persist snapshot")
//	}
//
// Unavailable is the only transient kind. The bridge treats it (and any
// transport failure) as the trigger for fail-open relay decisions.
package errors
