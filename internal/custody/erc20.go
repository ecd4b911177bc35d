package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/zillopoly/zillopoly/pkg/logger"
)

// Minimal ERC-20 ABI: the three methods the game ledger needs.
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// ERC20Custody adapts an on-chain ERC-20 token to the Custody interface.
// Transfers are mined synchronously: the call returns only after the
// transaction is included and its receipt reports success.
type ERC20Custody struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	token    common.Address
	opts     *bind.TransactOpts
	signer   common.Address
}

type ERC20Options struct {
	RPCURL       string
	TokenAddress string
	ChainID      int64
	PrivateKey   string // hex, no 0x prefix required
}

func NewERC20Custody(ctx context.Context, o ERC20Options) (*ERC20Custody, error) {
	if o.TokenAddress == "" {
		return nil, errors.New("erc20: token address is required")
	}
	client, err := ethclient.DialContext(ctx, o.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "erc20: dial rpc")
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "erc20: parse abi")
	}

	token := common.HexToAddress(o.TokenAddress)
	contract := bind.NewBoundContract(token, parsed, client, client, client)

	c := &ERC20Custody{
		client:   client,
		contract: contract,
		token:    token,
	}

	if o.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(o.PrivateKey, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "erc20: parse private key")
		}
		opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(o.ChainID))
		if err != nil {
			return nil, errors.Wrap(err, "erc20: transactor")
		}
		c.opts = opts
		c.signer = crypto.PubkeyToAddress(*key.Public().(*ecdsa.PublicKey))
	}
	return c, nil
}

func (c *ERC20Custody) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Signer returns the address of the configured transaction signer.
func (c *ERC20Custody) Signer() string {
	return c.signer.Hex()
}

func (c *ERC20Custody) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, errors.Wrap(err, "erc20: balanceOf")
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("erc20: unexpected balanceOf result %T", out[0])
	}
	return bal, nil
}

func (c *ERC20Custody) Transfer(ctx context.Context, to string, amount *big.Int) error {
	return c.transact(ctx, "transfer", common.HexToAddress(to), amount)
}

func (c *ERC20Custody) TransferFrom(ctx context.Context, from, to string, amount *big.Int) error {
	// Requires a prior approve() from the payer toward the signer.
	target := c.signer
	if to != "" {
		target = common.HexToAddress(to)
	}
	return c.transact(ctx, "transferFrom", common.HexToAddress(from), target, amount)
}

func (c *ERC20Custody) transact(ctx context.Context, method string, args ...interface{}) error {
	if c.opts == nil {
		return errors.New("erc20: no signer configured")
	}
	opts := *c.opts
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return errors.Wrapf(err, "erc20: %s", method)
	}
	logger.Debugf("[erc20] %s tx sent: %s", method, tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return errors.Wrapf(err, "erc20: wait %s tx %s", method, tx.Hash().Hex())
	}
	if receipt.Status != 1 {
		return fmt.Errorf("erc20: %s tx %s reverted", method, tx.Hash().Hex())
	}
	return nil
}
