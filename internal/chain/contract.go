package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// registryABI describes the affidavit registry contract: one write that
// records a display id with its document hash and text fields, and one
// view that reads them back for comparison.
const registryABI = `[
  {
    "name": "record",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "displayId", "type": "string"},
      {"name": "docHash", "type": "bytes32"},
      {"name": "title", "type": "string"},
      {"name": "category", "type": "string"},
      {"name": "description", "type": "string"},
      {"name": "declaration", "type": "string"}
    ],
    "outputs": []
  },
  {
    "name": "getAffidavit",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "displayId", "type": "string"}
    ],
    "outputs": [
      {"name": "exists", "type": "bool"},
      {"name": "docHash", "type": "bytes32"},
      {"name": "title", "type": "string"},
      {"name": "category", "type": "string"},
      {"name": "description", "type": "string"},
      {"name": "declaration", "type": "string"}
    ]
  }
]`

// backend is the slice of the client the bound contract needs.
type backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
}

func newRegistry(address common.Address, b backend) (*bind.BoundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, err
	}
	return bind.NewBoundContract(address, parsed, b, b, b), nil
}
