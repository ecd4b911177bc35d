package observer

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/zillopoly/zillopoly/pkg/logger"
)

// GameSettled event signature on the game contract. The player address is
// indexed; the remaining fields ride in the data segment.
const gameSettledABI = `[{"anonymous":false,"inputs":[
  {"indexed":true,"name":"player","type":"address"},
  {"indexed":false,"name":"betAmount","type":"uint256"},
  {"indexed":false,"name":"threshold","type":"uint256"},
  {"indexed":false,"name":"guessedHigher","type":"bool"},
  {"indexed":false,"name":"won","type":"bool"},
  {"indexed":false,"name":"payout","type":"uint256"}
],"name":"GameSettled","type":"event"}]`

// gameSettledData is the non-indexed payload of a GameSettled log.
type gameSettledData struct {
	BetAmount     *big.Int
	Threshold     *big.Int
	GuessedHigher bool
	Won           bool
	Payout        *big.Int
}

// Observer watches a game contract for GameSettled logs, writes each one
// into the event index and logs it. Strictly a side-effect consumer: it
// never mutates game state, and an outage here cannot corrupt the ledger.
type Observer struct {
	wsURL    string
	contract common.Address
	index    *EventIndex
	abi      abi.ABI
	eventID  common.Hash
}

func New(wsURL, contractAddr string, index *EventIndex) (*Observer, error) {
	parsed, err := abi.JSON(strings.NewReader(gameSettledABI))
	if err != nil {
		return nil, errors.Wrap(err, "observer: parse abi")
	}
	return &Observer{
		wsURL:    wsURL,
		contract: common.HexToAddress(contractAddr),
		index:    index,
		abi:      parsed,
		eventID:  parsed.Events["GameSettled"].ID,
	}, nil
}

// Run blocks until ctx is canceled, resubscribing with backoff after any
// connection or subscription failure.
func (o *Observer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := o.watch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("[observer] subscription dropped: %v, retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return
	}
}

func (o *Observer) watch(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, o.wsURL)
	if err != nil {
		return errors.Wrap(err, "dial ws")
	}
	defer client.Close()

	query := ethereum.FilterQuery{
		Addresses: []common.Address{o.contract},
		Topics:    [][]common.Hash{{o.eventID}},
	}
	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return errors.Wrap(err, "subscribe filter logs")
	}
	defer sub.Unsubscribe()

	logger.Infof("[observer] watching GameSettled on %s", o.contract.Hex())
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			o.handleLog(ctx, lg)
		}
	}
}

func (o *Observer) handleLog(ctx context.Context, lg types.Log) {
	rec, err := o.Decode(lg)
	if err != nil {
		logger.Errorf("[observer] decode log %s: %v", lg.TxHash.Hex(), err)
		return
	}

	logger.WithField("player", rec.Player).
		Infof("[observer] GameSettled: won=%v guess_higher=%v bet=%s payout=%s block=%d tx=%s",
			rec.Won, rec.GuessHigher, rec.BetAmount, rec.Payout, rec.BlockNumber, rec.TxHash)

	if o.index != nil {
		if err := o.index.Insert(ctx, rec); err != nil {
			logger.Errorf("[observer] index insert: %v", err)
		}
	}
}

// Decode unpacks one GameSettled log into a SettlementRecord.
func (o *Observer) Decode(lg types.Log) (SettlementRecord, error) {
	if len(lg.Topics) < 2 {
		return SettlementRecord{}, errors.New("observer: missing indexed player topic")
	}

	var data gameSettledData
	if err := o.abi.UnpackIntoInterface(&data, "GameSettled", lg.Data); err != nil {
		return SettlementRecord{}, errors.Wrap(err, "observer: unpack data")
	}

	player := common.BytesToAddress(lg.Topics[1].Bytes())
	return SettlementRecord{
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		Player:      player.Hex(),
		BetAmount:   data.BetAmount.String(),
		Threshold:   data.Threshold.String(),
		GuessHigher: data.GuessedHigher,
		Won:         data.Won,
		Payout:      data.Payout.String(),
		ObservedAt:  time.Now(),
	}, nil
}
