// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package common holds the process-wide ambient state (build metadata,
// the structured logger, runtime options, and the test-mockable time
// indirection) shared by cmd, frontend and server. The JSON-RPC surface
// this package used to expose directly now lives in the validator
// package as a typed client; common only keeps what more than one
// package still needs.
package common

import (
	"time"

	"github.com/sirupsen/logrus"
)

// 'make build' will overwrite this string with the output of git-describe (tag)
var (
	Version   = "v0.0.0.0-dev"
	GitCommit = ""
	Branch    = ""
	BuildDate = ""
	BuildUser = ""
	NodeName  = "zebrad"

	// DonationAddress is an optional Zcash UA address this instance
	// advertises via GetLightdInfo, set from the donation-address flag.
	DonationAddress = ""
)

// Options holds every flag/config-file value the proxy is started with,
// field names matching the recognized configuration options named for the
// external interfaces.
type Options struct {
	// Transport activation.
	TCPActive      bool   `json:"tcp_active"`
	TCPListenAddr  string `json:"tcp_listen_addr,omitempty"`
	NymActive      bool   `json:"nym_active"`
	NymConfPath    string `json:"nym_conf_path,omitempty"`

	LightwalletdURI string `json:"lightwalletd_uri"`
	ValidatorURI    string `json:"validator_uri"`
	NodeUser        string `json:"node_user"`
	NodePassword    string `json:"node_password"`

	MaxQueueSize        uint16 `json:"max_queue_size"`
	MaxWorkerPoolSize   uint16 `json:"max_worker_pool_size"`
	IdleWorkerPoolSize  uint16 `json:"idle_worker_pool_size"`

	// Ambient serving/logging concerns, grounded on the teacher's own flags.
	GRPCLogging         bool   `json:"grpc_logging_insecure,omitempty"`
	HTTPBindAddr        string `json:"http_bind_address,omitempty"`
	TLSCertPath         string `json:"tls_cert_path,omitempty"`
	TLSKeyPath          string `json:"tls_cert_key,omitempty"`
	LogLevel            uint64 `json:"log_level,omitempty"`
	LogFile             string `json:"log_file,omitempty"`
	NoTLSVeryInsecure   bool   `json:"no_tls_very_insecure,omitempty"`
	GenCertVeryInsecure bool   `json:"gen_cert_very_insecure,omitempty"`
	PingEnable          bool   `json:"ping_enable"`

	DirectorTick time.Duration `json:"director_tick"`
	RPCTimeout   time.Duration `json:"rpc_timeout"`
}

// Validate checks the cross-field invariants named for the recognized
// configuration options: at least one transport must be active, each
// active transport's paired option must be present, and idle ≤ max.
func (o *Options) Validate() error {
	if !o.TCPActive && !o.NymActive {
		return errConfig("at least one of tcp_active/nym_active must be true")
	}
	if o.TCPActive && o.TCPListenAddr == "" {
		return errConfig("tcp_active requires tcp_listen_addr")
	}
	if o.NymActive && o.NymConfPath == "" {
		return errConfig("nym_active requires nym_conf_path")
	}
	if o.IdleWorkerPoolSize > o.MaxWorkerPoolSize {
		return errConfig("idle_worker_pool_size must be <= max_worker_pool_size")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError(msg) }

// Time allows time-related functions to be mocked for testing, so that
// tests can be deterministic and don't require real time to elapse. In
// production these point to the standard library `time` functions; in
// unit tests they point to mock functions.
var Time struct {
	Sleep func(d time.Duration)
	Now   func() time.Time
}

// Log as a global variable simplifies logging across packages.
var Log *logrus.Entry
