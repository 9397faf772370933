package imagesvc

// ImageConfig holds configuration parameters for image compression.
type ImageConfig struct {
	// Enabled turns on compression of captured images before they are cached.
	Enabled bool `env:"ENABLED" default:"false"`

	// MaxWidth is the width wider images are scaled down to, keeping the aspect ratio.
	// 0 keeps the original size.
	MaxWidth int `env:"MAX_WIDTH" default:"1920"`

	// Quality is the JPEG quality of re-encoded images, from 1 to 100.
	Quality int `env:"QUALITY" default:"80"`

	// MaxPixels rejects images with more pixels before decoding them.
	MaxPixels int64 `env:"MAX_PIXELS" default:"100000000"`

	// Interpolator specifies the image scaling algorithm to use.
	// Valid values are: "nearestneighbor", "catmullrom", "bilinear", "approxbilinear"
	Interpolator string `env:"INTERPOLATOR" default:"catmullrom"`
}
