package assets

import "github.com/spaghettifunk/prism/engine/assets/loaders"

// Loader turns one kind of asset payload into its decoded form.
type Loader[T any] interface {
	Load(name string, src loaders.Source) (T, error)
}

var (
	_ Loader[*loaders.Image]    = (*loaders.ImageLoader)(nil)
	_ Loader[*loaders.FontData] = (*loaders.BitmapFontLoader)(nil)
	_ Loader[*loaders.FontData] = (*loaders.SystemFontLoader)(nil)
)
