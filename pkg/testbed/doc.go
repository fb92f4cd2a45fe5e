// Package testbed runs Go tests inside assembled test contexts.
//
// A fixture is a pointer to a struct. Tagged fields are populated before the
// test body runs:
//
//	type checkoutTest struct {
//	    Store   orders.Store     `testbed:"fake"`
//	    Clock   clock.Clock      `testbed:"virtual"`
//	    Service *orders.Service  `testbed:"real"`
//	    DB      *pgxpool.Pool    `testbed:"resource=db"`
//	}
//
//	func (*checkoutTest) Declare() []any {
//	    return []any{
//	        orders.Module,
//	        descriptor.Resource{Kind: api.KindRemote, Name: "db", Provider: "postgres",
//	            Properties: map[string]string{"dsn": "${DATABASE_URL}", "isolate": "true"}},
//	    }
//	}
//
//	func TestCheckout(t *testing.T) {
//	    f := &checkoutTest{}
//	    testbed.Run(t, f, func(ctx context.Context, tc *testbed.TestContext) error {
//	        ...
//	    })
//	}
//
// The context is torn down when the body returns, fails or panics, without
// relying on t.Cleanup. Bodies should report failures by returning an error
// or with non-fatal assertions; t.FailNow inside the body skips the
// remaining body but teardown still runs.
//
// Configuration is read from testbed.yaml in TESTBED_CONFIG_DIR, or the
// working directory, once per process.
package testbed
