// Package descriptor holds the declarative metadata vocabulary of a fixture
// and the immutable Model the analyzer produces from it.
//
// A fixture is a struct. Field metadata lives in the testbed struct tag:
//
//	type StoreTest struct {
//	    Store  Store             `testbed:"fake"`
//	    Cache  *Cache            `testbed:"virtual,name=primary"`
//	    Pool   *pgxpool.Pool     `testbed:"resource=db,key=pool"`
//	}
//
// Class metadata is returned from an optional Declare method:
//
//	func (*StoreTest) Declare() []any {
//	    return []any{
//	        descriptor.Module{Name: "app", Constructors: []any{NewService}},
//	        descriptor.Resource{Kind: api.KindRemote, Name: "db", Provider: "postgres"},
//	        descriptor.Verify{},
//	    }
//	}
//
// Inspectors write into a Builder; Build freezes it into a Model that
// implements api.Descriptor.
package descriptor
