package observer

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeGameSettledLog(t *testing.T) {
	o, err := New("ws://localhost:8546", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E", nil)
	require.NoError(t, err)

	player := common.HexToAddress("0x1111111111111111111111111111111111111111")
	bet := new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	payout := new(big.Int).Mul(bet, big.NewInt(2))

	data, err := o.abi.Events["GameSettled"].Inputs.NonIndexed().Pack(
		bet, big.NewInt(500000), true, true, payout,
	)
	require.NoError(t, err)

	lg := types.Log{
		Address:     o.contract,
		Topics:      []common.Hash{o.eventID, common.BytesToHash(player.Bytes())},
		Data:        data,
		BlockNumber: 68123456,
		TxHash:      common.HexToHash("0xabc123"),
	}

	rec, err := o.Decode(lg)
	require.NoError(t, err)
	assert.Equal(t, player.Hex(), rec.Player)
	assert.Equal(t, bet.String(), rec.BetAmount)
	assert.Equal(t, "500000", rec.Threshold)
	assert.True(t, rec.GuessHigher)
	assert.True(t, rec.Won)
	assert.Equal(t, payout.String(), rec.Payout)
	assert.Equal(t, uint64(68123456), rec.BlockNumber)
}

func TestDecodeRejectsLogWithoutPlayerTopic(t *testing.T) {
	o, err := New("ws://localhost:8546", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E", nil)
	require.NoError(t, err)

	_, err = o.Decode(types.Log{Topics: []common.Hash{o.eventID}})
	assert.Error(t, err)
}

func TestEventIndexInsertAndRecent(t *testing.T) {
	idx, err := OpenEventIndex(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	base := SettlementRecord{
		TxHash:      "0xaaa",
		BlockNumber: 100,
		Player:      "0x1111111111111111111111111111111111111111",
		BetAmount:   "10000000000000000000",
		Threshold:   "500000",
		GuessHigher: true,
		Won:         true,
		Payout:      "20000000000000000000",
		ObservedAt:  time.Now(),
	}
	require.NoError(t, idx.Insert(ctx, base))

	second := base
	second.TxHash = "0xbbb"
	second.BlockNumber = 101
	second.Won = false
	second.Payout = "0"
	require.NoError(t, idx.Insert(ctx, second))

	// duplicate delivery of the same log is ignored
	require.NoError(t, idx.Insert(ctx, base))

	recent, err := idx.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "0xbbb", recent[0].TxHash, "newest first")
	assert.False(t, recent[0].Won)
	assert.Equal(t, "0xaaa", recent[1].TxHash)
	assert.True(t, recent[1].Won)
	assert.Equal(t, "20000000000000000000", recent[1].Payout)
}
