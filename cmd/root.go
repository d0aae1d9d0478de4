// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/zcash/lightwalletd-proxy/common"
	"github.com/zcash/lightwalletd-proxy/common/logging"
	"github.com/zcash/lightwalletd-proxy/frontend"
	"github.com/zcash/lightwalletd-proxy/server"
	"github.com/zcash/lightwalletd-proxy/validator"
	"github.com/zcash/lightwalletd-proxy/walletrpc"
)

var cfgFile string
var logger = logrus.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lightwalletd-proxy",
	Short: "A bandwidth-efficient, multi-transport indexing proxy for the Zcash blockchain",
	Long: `lightwalletd-proxy dispatches wallet RPCs onto a dynamically sized
         worker pool over both TCP and anonymous mixnet transports.`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := &common.Options{
			TCPActive:           viper.GetBool("tcp-active"),
			TCPListenAddr:       viper.GetString("tcp-listen-addr"),
			NymActive:           viper.GetBool("nym-active"),
			NymConfPath:         viper.GetString("nym-conf-path"),
			LightwalletdURI:     viper.GetString("lightwalletd-uri"),
			ValidatorURI:        viper.GetString("validator-uri"),
			NodeUser:            viper.GetString("node-user"),
			NodePassword:        viper.GetString("node-password"),
			MaxQueueSize:        uint16(viper.GetUint("max-queue-size")),
			MaxWorkerPoolSize:   uint16(viper.GetUint("max-worker-pool-size")),
			IdleWorkerPoolSize:  uint16(viper.GetUint("idle-worker-pool-size")),
			GRPCLogging:         viper.GetBool("grpc-logging-insecure"),
			HTTPBindAddr:        viper.GetString("http-bind-addr"),
			TLSCertPath:         viper.GetString("tls-cert"),
			TLSKeyPath:          viper.GetString("tls-key"),
			LogLevel:            viper.GetUint64("log-level"),
			LogFile:             viper.GetString("log-file"),
			NoTLSVeryInsecure:   viper.GetBool("no-tls-very-insecure"),
			GenCertVeryInsecure: viper.GetBool("gen-cert-very-insecure"),
			PingEnable:          viper.GetBool("ping-very-insecure"),
			DirectorTick:        viper.GetDuration("director-tick"),
			RPCTimeout:          viper.GetDuration("rpc-timeout"),
		}

		if err := opts.Validate(); err != nil {
			os.Stderr.WriteString(fmt.Sprintf("\n  ** Invalid configuration: %s\n\n", err))
			os.Exit(1)
		}

		common.Log.Debugf("Options: %#v\n", opts)

		if !opts.NoTLSVeryInsecure && !opts.GenCertVeryInsecure {
			for _, filename := range []string{opts.TLSCertPath, opts.TLSKeyPath} {
				if !fileExists(filename) {
					os.Stderr.WriteString(fmt.Sprintf("\n  ** File does not exist: %s\n\n", filename))
					common.Log.Fatal("required file ", filename, " does not exist")
				}
			}
		}

		if err := startServer(opts); err != nil {
			common.Log.WithFields(logrus.Fields{
				"error": err,
			}).Fatal("couldn't start server")
		}
	},
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}

// newTransportCreds picks TLS credentials per the very-insecure debug
// flags, or loads the real cert/key pair.
func newTransportCreds(opts *common.Options) (credentials.TransportCredentials, error) {
	if opts.GenCertVeryInsecure {
		common.Log.Warning("Certificate and key not provided, generating self signed values")
		tlsCert := common.GenerateCerts()
		return credentials.NewServerTLSFromCert(tlsCert), nil
	}
	return credentials.NewServerTLSFromFile(opts.TLSCertPath, opts.TLSKeyPath)
}

// newGRPCServer builds the TCP transport's grpc.Server, wired with the
// given ingestor's interceptors ahead of the teacher's existing
// logging/metrics interceptor chain, and TLS creds unless running in one
// of the very-insecure debug modes.
func newGRPCServer(opts *common.Options, ing *server.TCPIngestor) (*grpc.Server, error) {
	unary := grpc_middleware.ChainUnaryServer(
		ing.UnaryInterceptor,
		logging.LogInterceptor,
		grpc_prometheus.UnaryServerInterceptor,
	)
	stream := grpc_middleware.ChainStreamServer(
		ing.StreamInterceptor,
		grpc_prometheus.StreamServerInterceptor,
	)

	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(&connStatsHandler{}),
		grpc.UnaryInterceptor(unary),
		grpc.StreamInterceptor(stream),
	}

	if opts.NoTLSVeryInsecure {
		common.Log.Warningln("Starting insecure no-TLS (plaintext) TCP ingestor")
		return grpc.NewServer(serverOpts...), nil
	}

	transportCreds, err := newTransportCreds(opts)
	if err != nil {
		return nil, fmt.Errorf("loading TLS credentials: %w", err)
	}
	serverOpts = append(serverOpts, grpc.Creds(transportCreds))
	return grpc.NewServer(serverOpts...), nil
}

func startServer(opts *common.Options) error {
	if opts.LogFile != "" {
		output, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			common.Log.WithFields(logrus.Fields{
				"error": err,
				"path":  opts.LogFile,
			}).Fatal("couldn't open log file")
		}
		defer output.Close()
		logger.SetOutput(output)
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.SetLevel(logrus.Level(opts.LogLevel))
	logging.LogToStderr = opts.GRPCLogging

	common.Log.WithFields(logrus.Fields{
		"gitCommit": common.GitCommit,
		"buildDate": common.BuildDate,
		"buildUser": common.BuildUser,
	}).Infof("Starting lightwalletd-proxy version %s", common.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	validatorClient, err := validator.NewFromCreds(opts.ValidatorURI, opts.NodeUser, opts.NodePassword, common.Log)
	if err != nil {
		common.Log.WithFields(logrus.Fields{"error": err}).Fatal("connecting to validator")
	}

	chainInfo, err := validatorClient.GetBlockchainInfo(ctx)
	if err != nil {
		common.Log.WithFields(logrus.Fields{"error": err}).Fatal("getting initial information from the validator")
	}
	chainName := chainInfo.Chain
	common.Log.Info("validator reports chain ", chainName, " at height ", chainInfo.Blocks)

	service, err := frontend.NewService(ctx, validatorClient, chainName, opts.LightwalletdURI, common.Log)
	if err != nil {
		common.Log.WithFields(logrus.Fields{"error": err}).Fatal("couldn't create frontend service")
	}

	cfg := server.Config{
		MaxQueueSize:       int(opts.MaxQueueSize),
		MaxWorkerPoolSize:  int(opts.MaxWorkerPoolSize),
		IdleWorkerPoolSize: int(opts.IdleWorkerPoolSize),
		RPCTimeout:         opts.RPCTimeout,
		TickInterval:       opts.DirectorTick,
	}
	director := server.NewDirector(cfg, service, common.Log)

	if opts.TCPActive {
		// The ingestor's Unary/StreamInterceptor methods must be bound
		// into the grpc.Server's options, but the ingestor also needs
		// that same server to Serve/GracefulStop later; SetServer closes
		// that cycle without a second construction.
		tcpIngestor := server.NewTCPIngestor(opts.TCPListenAddr, nil, director.RequestQueue(), director.Online(), common.Log)
		gsrv, err := newGRPCServer(opts, tcpIngestor)
		if err != nil {
			common.Log.WithFields(logrus.Fields{"error": err}).Fatal("couldn't build gRPC server")
		}
		tcpIngestor.SetServer(gsrv)
		walletrpc.RegisterCompactTxStreamerServer(gsrv, service)
		grpc_prometheus.EnableHandlingTimeHistogram()
		grpc_prometheus.Register(gsrv)
		director.AttachTCP(ctx, tcpIngestor)
		common.Log.Infof("TCP ingestor listening on %s", opts.TCPListenAddr)
	}

	if opts.NymActive {
		nymIngestor := server.NewNymIngestor(server.NymIngestorConfig{ConfPath: opts.NymConfPath}, director.RequestQueue(), director.ResponseQueue(), director.Online(), common.Log)
		director.AttachNym(ctx, nymIngestor)
		common.Log.Infof("anonymous-transport ingestor configured at %s", opts.NymConfPath)
	}

	go startHTTPServer(opts)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-signals
		common.Log.WithFields(logrus.Fields{"signal": s.String()}).Info("caught signal, shutting down")
		cancel()
	}()

	director.Run(ctx)
	common.Log.Info("lightwalletd-proxy stopped")
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is current directory, lightwalletd.yaml)")

	rootCmd.Flags().Bool("tcp-active", true, "accept inbound gRPC-over-TCP connections")
	rootCmd.Flags().String("tcp-listen-addr", "127.0.0.1:9067", "the address to listen for grpc on")
	rootCmd.Flags().Bool("nym-active", false, "accept inbound requests over the anonymous mixnet transport")
	rootCmd.Flags().String("nym-conf-path", "", "local configuration directory for the anonymous-transport client")
	rootCmd.Flags().String("lightwalletd-uri", "", "upstream lightwalletd to proxy GetMempoolStream through, if any")
	rootCmd.Flags().String("validator-uri", "127.0.0.1:8232", "validator (zcashd/zebrad) JSON-RPC endpoint")
	rootCmd.Flags().String("node-user", "", "validator RPC user name")
	rootCmd.Flags().String("node-password", "", "validator RPC password")
	rootCmd.Flags().Uint("max-queue-size", 1024, "capacity of the request/response queues")
	rootCmd.Flags().Uint("max-worker-pool-size", 64, "maximum number of workers the pool may grow to")
	rootCmd.Flags().Uint("idle-worker-pool-size", 8, "number of workers kept warm at idle, and the pool's floor when scaling down")
	rootCmd.Flags().Duration("director-tick", 50*time.Millisecond, "interval of the supervisory scale/health tick")
	rootCmd.Flags().Duration("rpc-timeout", 30*time.Second, "per-call timeout applied to anonymous-transport dispatch")
	rootCmd.Flags().String("http-bind-addr", "127.0.0.1:9068", "the address to listen for http (metrics) on")
	rootCmd.Flags().Bool("grpc-logging-insecure", false, "enable grpc logging to stderr")
	rootCmd.Flags().String("tls-cert", "./cert.pem", "the path to a TLS certificate")
	rootCmd.Flags().String("tls-key", "./cert.key", "the path to a TLS key file")
	rootCmd.Flags().Int("log-level", int(logrus.InfoLevel), "log level (logrus 1-7)")
	rootCmd.Flags().String("log-file", "./server.log", "log file to write to")
	rootCmd.Flags().Bool("no-tls-very-insecure", false, "run without the required TLS certificate, only for debugging, DO NOT use in production")
	rootCmd.Flags().Bool("gen-cert-very-insecure", false, "run with self-signed TLS certificate, only for debugging, DO NOT use in production")
	rootCmd.Flags().Bool("ping-very-insecure", false, "allow Ping GRPC for testing")
	rootCmd.Flags().String("donation-address", "", "Zcash UA address to accept donations for operating this server")

	for _, name := range []string{
		"tcp-active", "tcp-listen-addr", "nym-active", "nym-conf-path",
		"lightwalletd-uri", "validator-uri", "node-user", "node-password",
		"max-queue-size", "max-worker-pool-size", "idle-worker-pool-size",
		"director-tick", "rpc-timeout",
		"http-bind-addr", "grpc-logging-insecure", "tls-cert", "tls-key",
		"log-level", "log-file", "no-tls-very-insecure", "gen-cert-very-insecure",
		"ping-very-insecure", "donation-address",
	} {
		viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	})

	onexit := func() {
		fmt.Printf("lightwalletd-proxy died with a Fatal error. Check logfile for details.\n")
	}

	common.Log = logger.WithFields(logrus.Fields{
		"app": "lightwalletd-proxy",
	})

	logrus.RegisterExitHandler(onexit)

	common.Time.Sleep = time.Sleep
	common.Time.Now = time.Now
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("lightwalletd")
	}

	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	common.DonationAddress = viper.GetString("donation-address")

	if common.DonationAddress != "" {
		if !strings.HasPrefix(common.DonationAddress, "u") {
			common.Log.Fatal("donation-address must be a Zcash UA address, generate it with a recent wallet")
		}
		if len(common.DonationAddress) > 255 {
			common.Log.Fatal("donation-address must be less than 256 characters")
		}
		common.Log.Info("Instance donation address: ", common.DonationAddress)
	}
}

func startHTTPServer(opts *common.Options) {
	http.Handle("/metrics", promhttp.Handler())
	http.ListenAndServe(opts.HTTPBindAddr, nil)
}
