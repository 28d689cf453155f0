// Package evm implements the chain collaborators of the pipeline on top of
// go-ethereum: market reads, report writes and SettlementRequested logs.
package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const contractABI = `[
  {"type":"function","name":"getMarket","stateMutability":"view",
   "inputs":[{"name":"marketId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"creator","type":"address"},
     {"name":"createdAt","type":"uint48"},
     {"name":"settledAt","type":"uint48"},
     {"name":"settled","type":"bool"},
     {"name":"confidence","type":"uint16"},
     {"name":"outcome","type":"uint8"},
     {"name":"totalYesPool","type":"uint256"},
     {"name":"totalNoPool","type":"uint256"},
     {"name":"question","type":"string"}]}]},
  {"type":"function","name":"onReport","stateMutability":"nonpayable",
   "inputs":[{"name":"metadata","type":"bytes"},{"name":"report","type":"bytes"}],
   "outputs":[]},
  {"type":"event","name":"SettlementRequested","anonymous":false,
   "inputs":[{"name":"marketId","type":"uint256","indexed":true},
             {"name":"question","type":"string","indexed":false}]}
]`

// parsedABI covers getMarket, onReport and SettlementRequested.
var parsedABI = mustParseABI(contractABI)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("evm: parse abi: " + err.Error())
	}
	return a
}

// SettlementRequestedTopic is the event signature hash.
func SettlementRequestedTopic() [32]byte {
	return parsedABI.Events["SettlementRequested"].ID
}
