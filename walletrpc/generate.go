// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .
package walletrpc

// The CompactTxStreamer contract is hand-maintained in this package
// (compact_formats.go, service.go) rather than generated, since no
// compact_formats.proto/service.proto pair ships alongside this module.
// Keep the two in sync with any upstream .proto this proxy is fronting.
