// Package bootstrap runs a service's lifecycle: build the logger from the
// loaded config, start registered components in order, run hooks, block
// until a signal, then stop everything in reverse order.
//
//	app, err := bootstrap.NewApp(&cfg)
//	app.RegisterComponent(dbComponent)
//	app.OnConfigure(func(ctx context.Context, a *bootstrap.App[*Config]) error {
//	    return wireServices(a)
//	})
//	err = app.Run(ctx)
package bootstrap
