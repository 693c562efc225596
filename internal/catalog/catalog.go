package catalog

// Catalog is the ordered list of installable apps.
// Order matters: it is the tie-break when several apps provide the same type.
type Catalog struct {
	apps []*App
	byID map[string]*App
}

// New creates a catalog from apps in their listed order.
// Later duplicates of an id are ignored.
func New(apps []*App) *Catalog {
	c := &Catalog{
		apps: make([]*App, 0, len(apps)),
		byID: make(map[string]*App, len(apps)),
	}
	for _, app := range apps {
		if app == nil {
			continue
		}
		if _, dup := c.byID[app.ID]; dup {
			continue
		}
		c.apps = append(c.apps, app)
		c.byID[app.ID] = app
	}
	return c
}

// Apps returns the apps in catalog order
func (c *Catalog) Apps() []*App {
	out := make([]*App, len(c.apps))
	copy(out, c.apps)
	return out
}

// Len returns the number of apps
func (c *Catalog) Len() int {
	return len(c.apps)
}

// Get returns the app with the given id
func (c *Catalog) Get(id string) (*App, bool) {
	app, ok := c.byID[id]
	return app, ok
}

// FirstOfType returns the first app providing appType
func (c *Catalog) FirstOfType(appType string) (*App, bool) {
	for _, app := range c.apps {
		if app.Type == appType {
			return app, true
		}
	}
	return nil, false
}

// Resolve maps ids to apps, keeping the given order.
// missing lists every id the catalog does not contain.
func (c *Catalog) Resolve(ids []string) (apps []*App, missing []string) {
	for _, id := range ids {
		app, ok := c.byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		apps = append(apps, app)
	}
	return apps, missing
}
