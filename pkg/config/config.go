package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	sys "golang.org/x/sys/unix"
	"gopkg.in/yaml.v2"
)

const (
	configDir    string = ".ich"
	xdgConfigDir string = "ich"
	configFile   string = "config.yml"
)

const (
	// DefaultPayloadPath is where the instrumentation library is dropped.
	DefaultPayloadPath = "/tmp/libich.so"
	// DefaultPayloadName is the file name of the library looked up next
	// to the harness executable when no payload source is configured.
	DefaultPayloadName = "libich.so"
	// DefaultPreloadVariable is the dynamic loader preload variable.
	DefaultPreloadVariable = "LD_PRELOAD"
	// DefaultMaxScanPages bounds the backward image base scan.
	DefaultMaxScanPages = 1 << 16
	// DefaultRegisterColor is the ANSI color used for register names.
	DefaultRegisterColor = 34
)

// Config defines all configuration options available to be set through the
// config file.
type Config struct {
	// PayloadPath is the absolute path the instrumentation library is
	// written to before the target is launched.
	PayloadPath string `yaml:"payload-path"`
	// PayloadSource is the file the library bytes are read from.
	PayloadSource string `yaml:"payload-source,omitempty"`
	// PreloadVariable is the environment variable that makes the dynamic
	// loader load the payload.
	PreloadVariable string `yaml:"preload-variable"`

	// CrashSignals lists the signals that are reported as a crash.
	CrashSignals []string `yaml:"crash-signals"`
	// ForwardSignals re-injects non crash signals into the target.
	ForwardSignals *bool `yaml:"forward-signals,omitempty"`

	// MaxScanPages is the maximum number of pages walked backwards from
	// the instruction pointer looking for the image header, 0 means no
	// limit.
	MaxScanPages *int `yaml:"max-scan-pages,omitempty"`

	// RegisterColor is the 3/4 bit ANSI foreground color used for register
	// names in crash dumps, 0 disables colors.
	RegisterColor *int `yaml:"register-color,omitempty"`

	// TTY is the terminal the target's standard streams are attached to.
	TTY string `yaml:"tty,omitempty"`
}

// Default returns a configuration with every option set to its default
// value.
func Default() *Config {
	c := &Config{}
	c.fillDefaults()
	return c
}

func (c *Config) fillDefaults() {
	if c.PayloadPath == "" {
		c.PayloadPath = DefaultPayloadPath
	}
	if c.PreloadVariable == "" {
		c.PreloadVariable = DefaultPreloadVariable
	}
	if len(c.CrashSignals) == 0 {
		c.CrashSignals = []string{"SIGSEGV"}
	}
	if c.ForwardSignals == nil {
		t := true
		c.ForwardSignals = &t
	}
	if c.MaxScanPages == nil {
		n := DefaultMaxScanPages
		c.MaxScanPages = &n
	}
	if c.RegisterColor == nil {
		n := DefaultRegisterColor
		c.RegisterColor = &n
	}
}

// Validate checks the values that can not be checked by the YAML decoder.
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.PayloadPath) {
		return fmt.Errorf("payload-path must be absolute: %q", c.PayloadPath)
	}
	if c.PreloadVariable == "" || strings.ContainsAny(c.PreloadVariable, "= ") {
		return fmt.Errorf("invalid preload-variable %q", c.PreloadVariable)
	}
	if _, err := c.Signals(); err != nil {
		return err
	}
	if c.MaxScanPages != nil && *c.MaxScanPages < 0 {
		return fmt.Errorf("max-scan-pages can not be negative: %d", *c.MaxScanPages)
	}
	return nil
}

// Signals returns the parsed crash signals.
func (c *Config) Signals() ([]sys.Signal, error) {
	r := make([]sys.Signal, 0, len(c.CrashSignals))
	for _, name := range c.CrashSignals {
		sig, err := ParseSignal(name)
		if err != nil {
			return nil, err
		}
		r = append(r, sig)
	}
	return r, nil
}

// ParseSignal converts a signal name, with or without the SIG prefix, or a
// signal number into a signal.
func ParseSignal(name string) (sys.Signal, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if s == "" {
		return 0, errors.New("empty signal name")
	}
	if !strings.HasPrefix(s, "SIG") {
		s = "SIG" + s
	}
	if sig := sys.SignalNum(s); sig != 0 {
		return sig, nil
	}
	var n int
	if _, err := fmt.Sscanf(name, "%d", &n); err == nil && n > 0 && n < 65 {
		return sys.Signal(n), nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

// DefaultPayloadSource returns the path of the payload library shipped next
// to the harness executable.
func DefaultPayloadSource() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultPayloadName
	}
	return filepath.Join(filepath.Dir(exe), DefaultPayloadName)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// A missing file is created with the default, commented out, content.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return Default(), fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return Default(), fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return Default(), fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()
	return decode(f)
}

// LoadConfigFile reads the configuration from path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Default(), fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.UnmarshalStrict(data, &c)
	if err != nil {
		return Default(), fmt.Errorf("unable to decode config file: %v", err)
	}
	c.fillDefaults()
	return &c, nil
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the ich crash harness.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Path the instrumentation library is written to before every run.
# payload-path: /tmp/libich.so

# File the instrumentation library is read from. Defaults to libich.so in the
# directory of the ich executable.
# payload-source: /usr/local/lib/ich/libich.so

# Environment variable used to preload the library.
# preload-variable: LD_PRELOAD

# Signals reported as a crash.
# crash-signals: [SIGSEGV, SIGBUS]

# Deliver other signals to the target instead of discarding them.
# forward-signals: true

# Maximum number of pages scanned backwards from the instruction pointer
# while looking for the ELF header, 0 means no limit.
# max-scan-pages: 65536

# ANSI foreground color for register names, 0 disables colors.
# See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# register-color: 34

# Terminal to attach the target's standard streams to.
# tty: /dev/pts/3
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("ICH_CONFIG_DIR"); configPath != "" {
		return filepath.Join(configPath, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	if runtime.GOOS == "linux" {
		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			return filepath.Join(xdgConfigHome, xdgConfigDir, file), nil
		}
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
