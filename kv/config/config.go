package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
	"github.com/pingcap-incubator/tinyredis/kv/dict"
	"github.com/pingcap-incubator/tinyredis/kv/util/typeutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the tinyredis server configuration.
type Config struct {
	*pflag.FlagSet `toml:"-" json:"-"`

	StatusAddr string `toml:"status-addr" json:"status-addr"`
	// Databases is the number of numbered databases.
	Databases int `toml:"databases" json:"databases"`
	// Hz is how many times per second background maintenance runs.
	Hz int `toml:"hz" json:"hz"`
	// ActiveRehashing lets maintenance move rehashing tables forward even
	// when no commands touch them.
	ActiveRehashing bool `toml:"active-rehashing" json:"active-rehashing"`
	// RehashBudget is the time one maintenance run may spend rehashing.
	RehashBudget typeutil.Duration `toml:"rehash-budget" json:"rehash-budget"`
	// HashSeed is a hex encoded 16 byte key for the table hash function.
	// A random seed is used when it is empty.
	HashSeed string `toml:"hash-seed" json:"-"`

	Dict       DictConfig       `toml:"dict" json:"dict"`
	AppendOnly AppendOnlyConfig `toml:"append-only" json:"append-only"`

	Log log.Config `toml:"log" json:"log"`

	configFile string

	// For all warnings during parsing.
	WarningMsgs []string `toml:"-" json:"-"`

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// DictConfig tunes the resize policy of every hash table.
type DictConfig struct {
	InitialSize      uint64 `toml:"initial-size" json:"initial-size"`
	ForceResizeRatio uint64 `toml:"force-resize-ratio" json:"force-resize-ratio"`
	MinFillPercent   uint64 `toml:"min-fill-percent" json:"min-fill-percent"`
}

// AppendOnlyConfig configures the command log written by the server.
type AppendOnlyConfig struct {
	Enabled    bool              `toml:"enabled" json:"enabled"`
	Filename   string            `toml:"filename" json:"filename"`
	Fsync      string            `toml:"fsync" json:"fsync"`
	BufferSize typeutil.ByteSize `toml:"buffer-size" json:"buffer-size"`
}

const (
	FsyncAlways   = "always"
	FsyncEverySec = "everysec"
	FsyncNo       = "no"
)

const (
	defaultStatusAddr     = "127.0.0.1:6380"
	defaultDatabases      = 16
	defaultHz             = 10
	minHz                 = 1
	maxHz                 = 500
	defaultRehashBudget   = time.Millisecond
	defaultForceRatio     = 5
	defaultMinFillPercent = 10
	defaultAOFFilename    = "appendonly.aof"
	defaultAOFBufferSize  = 64 * 1024
	defaultLogLevel       = "info"
)

// NewConfig creates a new config with its command line flags registered.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = pflag.NewFlagSet("tinyredis-server", pflag.ContinueOnError)
	fs := cfg.FlagSet

	fs.StringVar(&cfg.configFile, "config", "", "config file")
	fs.StringVar(&cfg.StatusAddr, "status-addr", "", "http api address (default '"+defaultStatusAddr+"')")
	fs.IntVar(&cfg.Databases, "databases", 0, "number of databases (default 16)")
	fs.IntVar(&cfg.Hz, "hz", 0, "maintenance runs per second (default 10)")
	fs.StringVar(&cfg.HashSeed, "hash-seed", "", "hex encoded 16 byte hash seed (default random)")
	fs.BoolVar(&cfg.AppendOnly.Enabled, "appendonly", false, "log write commands to the append only file")
	fs.StringVar(&cfg.AppendOnly.Filename, "appendfilename", "", "append only file path")
	fs.StringVar(&cfg.AppendOnly.Fsync, "appendfsync", "", "fsync policy: always, everysec, no")

	fs.StringVarP(&cfg.Log.Level, "log-level", "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")

	return cfg
}

// NewTestConfig returns an adjusted config with a fixed hash seed and no
// background log.
func NewTestConfig() *Config {
	cfg := &Config{HashSeed: "000102030405060708090a0b0c0d0e0f"}
	if err := cfg.Adjust(nil); err != nil {
		panic(err)
	}
	return cfg
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustUint64(v *uint64, defValue uint64) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *typeutil.Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	// Load config file if specified.
	var meta *toml.MetaData
	if c.configFile != "" {
		meta, err = c.configFromFile(c.configFile)
		if err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}

	return c.Adjust(meta)
}

func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	return &meta, errors.WithStack(err)
}

// ConfigFile returns the path the config was loaded from.
func (c *Config) ConfigFile() string {
	return c.configFile
}

// Adjust fills in defaults for everything the file and flags left unset.
func (c *Config) Adjust(meta *toml.MetaData) error {
	configMetaData := newConfigMetadata(meta)
	if err := configMetaData.CheckUndecoded(); err != nil {
		c.WarningMsgs = append(c.WarningMsgs, err.Error())
	}

	adjustString(&c.StatusAddr, defaultStatusAddr)
	adjustInt(&c.Databases, defaultDatabases)
	adjustInt(&c.Hz, defaultHz)
	if c.Hz < minHz {
		c.WarningMsgs = append(c.WarningMsgs, fmt.Sprintf("hz %d is too small, using %d", c.Hz, minHz))
		c.Hz = minHz
	}
	if c.Hz > maxHz {
		c.WarningMsgs = append(c.WarningMsgs, fmt.Sprintf("hz %d is too large, using %d", c.Hz, maxHz))
		c.Hz = maxHz
	}
	if !configMetaData.IsDefined("active-rehashing") {
		c.ActiveRehashing = true
	}
	adjustDuration(&c.RehashBudget, defaultRehashBudget)

	adjustUint64(&c.Dict.InitialSize, dict.InitialSize)
	adjustUint64(&c.Dict.ForceResizeRatio, defaultForceRatio)
	adjustUint64(&c.Dict.MinFillPercent, defaultMinFillPercent)

	adjustString(&c.AppendOnly.Filename, defaultAOFFilename)
	adjustString(&c.AppendOnly.Fsync, FsyncEverySec)
	if c.AppendOnly.BufferSize == 0 {
		c.AppendOnly.BufferSize = defaultAOFBufferSize
	}

	adjustString(&c.Log.Level, defaultLogLevel)

	return c.Validate()
}

// Validate is used to validate if some configurations are right.
func (c *Config) Validate() error {
	if c.Databases < 1 {
		return errors.Errorf("databases must be positive, got %d", c.Databases)
	}
	switch c.AppendOnly.Fsync {
	case FsyncAlways, FsyncEverySec, FsyncNo:
	default:
		return errors.Errorf("invalid append-only fsync policy %q", c.AppendOnly.Fsync)
	}
	if c.Dict.MinFillPercent >= 100 {
		return errors.Errorf("dict min-fill-percent must be below 100, got %d", c.Dict.MinFillPercent)
	}
	if c.HashSeed != "" {
		if _, err := dict.ParseSeed(c.HashSeed); err != nil {
			return err
		}
	}
	return nil
}

// Seed returns the configured hash seed, or a random one.
func (c *Config) Seed() (dict.Seed, error) {
	if c.HashSeed == "" {
		return dict.NewSeed()
	}
	return dict.ParseSeed(c.HashSeed)
}

// DictOptions translates the [dict] section into table options.
func (c *Config) DictOptions() []dict.Option {
	return []dict.Option{
		dict.WithInitialSize(c.Dict.InitialSize),
		dict.WithForceResizeRatio(c.Dict.ForceResizeRatio),
		dict.WithMinFillPercent(c.Dict.MinFillPercent),
	}
}

// CronInterval is the period of background maintenance.
func (c *Config) CronInterval() time.Duration {
	return time.Second / time.Duration(c.Hz)
}

// Persist atomically writes the config as TOML to path.
func (c *Config) Persist(path string) error {
	snapshot := *c
	snapshot.FlagSet = nil
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(&snapshot); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(atomic.WriteFile(path, &buf))
}

// Utility to test if a configuration is defined.
type configMetaData struct {
	meta *toml.MetaData
	path []string
}

func newConfigMetadata(meta *toml.MetaData) *configMetaData {
	return &configMetaData{meta: meta}
}

func (m *configMetaData) IsDefined(key string) bool {
	if m.meta == nil {
		return false
	}
	keys := append([]string(nil), m.path...)
	keys = append(keys, key)
	return m.meta.IsDefined(keys...)
}

func (m *configMetaData) CheckUndecoded() error {
	if m.meta == nil {
		return nil
	}
	undecoded := m.meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return errors.New("Config contains undefined item: " + strings.Join(keys, ", "))
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return errors.Trace(err)
	}
	c.logger = lg
	c.logProps = p
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}

// LogLevelFromEnv returns the LOG_LEVEL environment variable, or "info".
func LogLevelFromEnv() string {
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		return l
	}
	return defaultLogLevel
}
