package bump

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jinzhu/configor"
)

type Config struct {
	BumpKit struct {
		// key for which Node struct to use, also selects chain params
		Network string `default:"regtest" required:"true"`
		// anchor output value policy: "zero" (TRUC ephemeral) or "min"
		AnchorValue string `default:"zero"`
	}

	// info for connecting to bitcoin-core daemons, keyed by network name
	Node map[string]struct {
		Host       string `default:"127.0.0.1"`
		RPCPort    int    `default:"18443"`
		RPCUser    string `default:"user"`
		RPCPass    string `default:"pass"`
		ZMQPort    int    `default:"28332"`
		WalletName string `default:"bumpkit"`
	}

	Store struct {
		DBFile string `default:"bumpkit.db"`
	}

	WebAPI struct {
		Bind string `default:"localhost"`
		Port string `default:"8089"`
	}

	Loggers map[string]LoggersConfig

	Callbacks map[string]CallbackConfig
}

type LoggersConfig struct {
	Path  string
	Types []string
}

type CallbackConfig struct {
	Path       string
	HMACSecret string
	Types      []string
}

func LoadConfig(confPath string) Config {
	c := Config{}
	configor.Load(&c, confPath)
	return c
}

// TestConfig returns a config suitable for tests: regtest params,
// zero-value anchors, no loggers or callbacks.
func TestConfig() Config {
	c := Config{}
	c.BumpKit.Network = "regtest"
	c.BumpKit.AnchorValue = "zero"
	c.Store.DBFile = ":memory:"
	c.WebAPI.Bind = "localhost"
	c.WebAPI.Port = "8089"
	return c
}

// ChainParams maps the configured network name to address-encoding
// parameters.
func (c Config) ChainParams() *chaincfg.Params {
	switch c.BumpKit.Network {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}
