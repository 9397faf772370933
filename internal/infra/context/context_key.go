package context

// contextKey namespaces values stored in a context.Context by this package.
type contextKey string
