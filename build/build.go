package build

var (
	Name    = "partfmt"
	Version = "v0.0.1+dev"
)
