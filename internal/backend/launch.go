package backend

// DefaultSourceLanguage asks the engine to detect the spoken language.
const DefaultSourceLanguage = "auto"

// LaunchConfig is fixed for the lifetime of one attached process.
type LaunchConfig struct {
	Binary         string
	Model          string
	ModelPath      string
	SourceLanguage string
}

// Args returns the engine command line: -m <modelPath> -l <sourceLanguage>.
func (c LaunchConfig) Args() []string {
	lang := c.SourceLanguage
	if lang == "" {
		lang = DefaultSourceLanguage
	}
	return []string{"-m", c.ModelPath, "-l", lang}
}
