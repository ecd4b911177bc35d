package ledger

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/zillopoly/zillopoly/internal/domain"
)

// Store 游戏记录的持久化接口
// 账本对每次提交成功的变更写穿（write-through），重启时整体重放
// SaveBatch 必须原子：要么整批落盘，要么一条都不落盘
type Store interface {
	SaveGame(g *domain.Game) error
	SaveBatch(games []*domain.Game) error
	LoadAll() ([]*domain.Game, error)
	Close() error
}

// BadgerStore 基于 Badger 的游戏存储
// key 布局: "game:%016x" -> JSON 编码的 Game
type BadgerStore struct {
	db *badger.DB
}

const gameKeyPrefix = "game:"

func gameKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", gameKeyPrefix, id))
}

// OpenBadgerStore 打开（或创建）数据目录下的游戏存储
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open badger at %s", dir)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveGame 保存单条游戏记录（整条覆盖写）
func (s *BadgerStore) SaveGame(g *domain.Game) error {
	b, err := json.Marshal(g)
	if err != nil {
		return errors.Wrapf(err, "encode game %d", g.ID)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(gameKey(g.ID), b)
	})
}

// SaveBatch 用单个 WriteBatch 落盘整批记录
// Flush 之前不提交任何 key，失败时不留下半截批次
func (s *BadgerStore) SaveBatch(games []*domain.Game) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, g := range games {
		b, err := json.Marshal(g)
		if err != nil {
			return errors.Wrapf(err, "encode game %d", g.ID)
		}
		if err := wb.Set(gameKey(g.ID), b); err != nil {
			return errors.Wrapf(err, "queue game %d", g.ID)
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrap(err, "flush batch")
	}
	return nil
}

// LoadAll 读出全部游戏记录（重启恢复用）
func (s *BadgerStore) LoadAll() ([]*domain.Game, error) {
	var games []*domain.Game
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(gameKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var g domain.Game
				if err := json.Unmarshal(val, &g); err != nil {
					return errors.Wrapf(err, "decode game at key %s", it.Item().Key())
				}
				games = append(games, &g)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return games, nil
}

// NopStore 空实现（纯内存运行和部分测试用）
type NopStore struct{}

func (NopStore) SaveGame(*domain.Game) error      { return nil }
func (NopStore) SaveBatch([]*domain.Game) error   { return nil }
func (NopStore) LoadAll() ([]*domain.Game, error) { return nil, nil }
func (NopStore) Close() error                     { return nil }
