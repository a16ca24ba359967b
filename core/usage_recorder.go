package core

import (
	"context"
	"sync"
	"time"

	"chat-gateway/models"

	"github.com/sirupsen/logrus"
)

// UsageRecorder 异步批量写入账号使用统计
type UsageRecorder struct {
	store     AccountStore
	recChan   chan *models.UsageRecord
	logger    *logrus.Logger
	batchSize int
	flushTime time.Duration
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

func NewUsageRecorder(store AccountStore, logger *logrus.Logger) *UsageRecorder {
	return newUsageRecorder(store, logger, 100, 5*time.Second)
}

func newUsageRecorder(store AccountStore, logger *logrus.Logger, batchSize int, flushTime time.Duration) *UsageRecorder {
	r := &UsageRecorder{
		store:     store,
		recChan:   make(chan *models.UsageRecord, 1000), // 缓冲 1000 条
		logger:    logger,
		batchSize: batchSize,
		flushTime: flushTime,
		quit:      make(chan struct{}),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.workerLoop()
	}()
	return r
}

// Record 提交记录，队列满时丢弃以免阻塞请求
func (r *UsageRecorder) Record(rec *models.UsageRecord) {
	select {
	case r.recChan <- rec:
	default:
		r.logger.Warn("Usage channel full, dropping record")
	}
}

func (r *UsageRecorder) workerLoop() {
	var batch []*models.UsageRecord
	ticker := time.NewTicker(r.flushTime)
	defer ticker.Stop()

	for {
		select {
		case rec := <-r.recChan:
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = nil
			}
		case <-r.quit:
			// 退出前处理队列中剩余的记录
			for {
				select {
				case rec := <-r.recChan:
					batch = append(batch, rec)
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

// flush 按账号聚合后一次写入
func (r *UsageRecorder) flush(batch []*models.UsageRecord) {
	if len(batch) == 0 {
		return
	}
	deltas := aggregateUsage(batch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.RecordUsage(ctx, deltas); err != nil {
		r.logger.Errorf("[Usage] Failed to flush %d records: %v", len(batch), err)
		return
	}
	r.logger.Debugf("[Usage] Flushed %d records for %d accounts", len(batch), len(deltas))
}

func aggregateUsage(batch []*models.UsageRecord) map[string]*UsageDelta {
	deltas := make(map[string]*UsageDelta)
	for _, rec := range batch {
		if rec.AccountID == "" {
			continue
		}
		d, ok := deltas[rec.AccountID]
		if !ok {
			d = &UsageDelta{}
			deltas[rec.AccountID] = d
		}
		d.Requests++
		if rec.Success {
			d.Successes++
		}
		d.DurationMS += rec.Duration.Milliseconds()
		d.Tokens += rec.Tokens
		if rec.At.After(d.LastActive) {
			d.LastActive = rec.At
		}
	}
	return deltas
}

// Close 停止 worker 并刷新剩余记录，可重复调用
func (r *UsageRecorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
		r.wg.Wait()
	})
	return nil
}
