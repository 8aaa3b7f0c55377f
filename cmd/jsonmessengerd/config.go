package main

import (
	"fmt"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// config defines the daemon options. Every option can be given on the
// command line, through its environment variable, or in an INI file.
type config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to an INI configuration file"`

	Listen  string `long:"listen" env:"JSONMESSENGER_LISTEN" description:"Interface to bind; all interfaces if empty"`
	TCPPort int    `long:"tcpport" env:"JSONMESSENGER_TCP_PORT" default:"2703" description:"Plain TCP port, 0 disables"`
	SSLPort int    `long:"sslport" env:"JSONMESSENGER_SSL_PORT" default:"0" description:"TLS port (conventionally 1303), 0 disables"`
	SSLCert string `long:"sslcert" env:"JSONMESSENGER_SSL_CERT" description:"PEM certificate for the TLS port"`
	SSLKey  string `long:"sslkey" env:"JSONMESSENGER_SSL_KEY" description:"PEM private key for the TLS port"`
	WSPort  int    `long:"wsport" env:"JSONMESSENGER_WS_PORT" default:"0" description:"WebSocket port, 0 disables"`

	EchoIdle        time.Duration `long:"echoidle" env:"JSONMESSENGER_ECHO_IDLE" default:"0s" description:"Silence before an echo request is sent, 0 disables heartbeats"`
	EchoThreshold   int           `long:"echothreshold" env:"JSONMESSENGER_ECHO_THRESHOLD" default:"3" description:"Unanswered echo requests before a connection is dropped"`
	NoConnectNotice bool          `long:"noconnectnotice" env:"JSONMESSENGER_NO_CONNECT_NOTICE" description:"Do not emit connect/disconnect events for transport connections"`
	MaxMessageSize  int           `long:"maxmessagesize" env:"JSONMESSENGER_MAX_MESSAGE_SIZE" default:"1048576" description:"Largest accepted message in bytes"`
	ShutdownTimeout time.Duration `long:"shutdowntimeout" env:"JSONMESSENGER_SHUTDOWN_TIMEOUT" default:"5s" description:"Time listeners wait before closing on shutdown"`

	MetricsPort int    `long:"metricsport" env:"JSONMESSENGER_METRICS_PORT" default:"0" description:"Port serving /metrics, 0 disables"`
	NATSURL     string `long:"natsurl" env:"JSONMESSENGER_NATS_URL" description:"Publish application events to this NATS server"`
	NATSSubject string `long:"natssubject" env:"JSONMESSENGER_NATS_SUBJECT" default:"jsonmessenger" description:"Subject prefix for published events"`

	LogLevel  string `long:"loglevel" env:"JSONMESSENGER_LOG_LEVEL" default:"info" description:"Log level: debug, info, warn, error"`
	LogFormat string `long:"logformat" env:"JSONMESSENGER_LOG_FORMAT" default:"json" choice:"json" choice:"console" description:"Log output format"`
	LogFile   string `long:"logfile" env:"JSONMESSENGER_LOG_FILE" description:"Also write logs to this rotated file"`
}

// loadConfig parses the command line, then the config file if one was
// named, then the command line again so that flags override the file.
func loadConfig(args []string) (*config, error) {
	preCfg := config{}
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, err
	}

	cfg := config{}
	parser := flags.NewParser(&cfg, flags.Default)
	if preCfg.ConfigFile != "" {
		if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", preCfg.ConfigFile)
		}
	}
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) validate() error {
	for name, port := range map[string]int{
		"tcpport": c.TCPPort, "sslport": c.SSLPort, "wsport": c.WSPort, "metricsport": c.MetricsPort,
	} {
		if port < 0 || port > 65535 {
			return errors.Errorf("--%s %d out of range", name, port)
		}
	}
	if c.TCPPort == 0 && c.SSLPort == 0 && c.WSPort == 0 {
		return errors.New("no listener enabled: set --tcpport, --sslport or --wsport")
	}
	if c.SSLPort != 0 && (c.SSLCert == "" || c.SSLKey == "") {
		return errors.New("--sslport requires --sslcert and --sslkey")
	}
	if c.EchoIdle < 0 {
		return errors.New("--echoidle must not be negative")
	}
	if c.EchoThreshold < 1 {
		return errors.New("--echothreshold must be at least 1")
	}
	return nil
}
