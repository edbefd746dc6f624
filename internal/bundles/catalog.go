package bundles

// Bundle is a catalog entry a user may be granted.
type Bundle struct {
	ID string

	// Cap limits how many users may hold the bundle at once. Zero means
	// unlimited.
	Cap int

	// Qualifier, when set, must be supplied verbatim by the grant request.
	Qualifier string
}

// Catalog is the static set of grantable bundles, loaded at startup.
type Catalog map[string]Bundle

// DefaultCatalog describes the bundles available in local development.
func DefaultCatalog() Catalog {
	return Catalog{
		"test":       {ID: "test"},
		"mtd-vat":    {ID: "mtd-vat", Qualifier: "vat"},
		"single-use": {ID: "single-use", Cap: 1},
	}
}
