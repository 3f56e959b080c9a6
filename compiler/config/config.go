package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"tlog.app/go/errors"
)

type (
	// Config is the interpreter configuration.
	// It's passed explicitly to every run, there is no process wide state.
	Config struct {
		Entry string `toml:"entry"`

		StepLimit     int   `toml:"step_limit"`
		MaxStackDepth int   `toml:"max_stack_depth"`
		PointerSize   int   `toml:"pointer_size"`
		MaxAllocSize  int64 `toml:"max_alloc_size"`

		CheckAlignment bool       `toml:"check_alignment"`
		Validation     Validation `toml:"validation"`
		CheckLeaks     bool       `toml:"check_leaks"`
		AllowPtrToInt  bool       `toml:"allow_ptr_to_int"`

		CachePath string `toml:"cache"`

		// Dir is the directory the file was loaded from.
		Dir string `toml:"-"`
	}

	// Validation selects where values are checked for validity.
	Validation string
)

const FileName = "mir.toml"

const (
	ValidateNone  Validation = "none"
	ValidateEdges Validation = "edges"
	ValidateAll   Validation = "all"
)

func Default() Config {
	return Config{
		Entry:          "main",
		StepLimit:      1_000_000,
		MaxStackDepth:  256,
		PointerSize:    8,
		MaxAllocSize:   1 << 30,
		CheckAlignment: true,
		Validation:     ValidateEdges,
		CheckLeaks:     true,
	}
}

// Load reads mir.toml from dir. Unset fields get default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read %v", path)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", path)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "resolve %v", dir)
	}

	return c, nil
}

// Parse decodes TOML data over the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()

	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	if keys := md.Undecoded(); len(keys) != 0 {
		return nil, errors.New("unknown key: %v", keys[0])
	}

	err = c.Check()
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// FindAndLoad walks up from startDir looking for mir.toml.
// It returns nil if there is none.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, errors.Wrap(err, "resolve %v", startDir)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}

		dir = parent
	}
}

// Check validates c and fills zero fields which have defaults.
// Zero limits mean no limit.
func (c *Config) Check() error {
	switch c.Validation {
	case ValidateNone, ValidateEdges, ValidateAll:
	case "":
		c.Validation = ValidateEdges
	default:
		return errors.New("validation: unsupported mode %q", c.Validation)
	}

	switch c.PointerSize {
	case 2, 4, 8:
	case 0:
		c.PointerSize = 8
	default:
		return errors.New("pointer_size: %d bytes is not supported", c.PointerSize)
	}

	if c.StepLimit < 0 || c.MaxStackDepth < 0 || c.MaxAllocSize < 0 {
		return errors.New("limits must not be negative")
	}

	return nil
}

// Edges reports whether call edges and transmutes are validated.
func (v Validation) Edges() bool { return v == ValidateEdges || v == ValidateAll }

// Assignments reports whether every assignment is validated.
func (v Validation) Assignments() bool { return v == ValidateAll }
