package hooks

// Plugin contributes hook entries. Register is called on every bootstrap,
// after the registry has been reset.
type Plugin interface {
	Name() string
	Register(r *Registry) error
}

// PluginFunc adapts a function to Plugin.
type PluginFunc struct {
	PluginName string
	Fn         func(r *Registry) error
}

// Name returns the plugin name.
func (p PluginFunc) Name() string {
	return p.PluginName
}

// Register calls Fn.
func (p PluginFunc) Register(r *Registry) error {
	if p.Fn == nil {
		return nil
	}
	return p.Fn(r)
}
