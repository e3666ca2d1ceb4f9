package application

import (
	"context"
	"errors"
	"sync"

	"github.com/wyfcoding/txengine/internal/account/domain"
	"github.com/wyfcoding/txengine/pkg/logger"
)

// ErrRouterFinished 路由器已广播停机，不再接收交易
var ErrRouterFinished = errors.New("router already finished")

// Router 将单一交易流按客户分发给各自的账户状态机，并协调停机
// 客户 -> 收件箱映射只由调用 Route/Finish 的单个 goroutine 读写
type Router struct {
	handles       map[domain.ClientID]chan<- domain.Transaction
	results       chan<- domain.Snapshot
	accountBuffer int
	recorder      Recorder
	wg            sync.WaitGroup
	finished      bool
}

// NewRouter 创建路由器，状态机的最终快照写入 results
func NewRouter(results chan<- domain.Snapshot, accountBuffer int, recorder Recorder) *Router {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Router{
		handles:       make(map[domain.ClientID]chan<- domain.Transaction),
		results:       results,
		accountBuffer: accountBuffer,
		recorder:      recorder,
	}
}

// Route 转发一条交易，客户首次出现时创建状态机
// 目标收件箱已满时阻塞（背压），直到有空位或 ctx 结束
func (r *Router) Route(ctx context.Context, msg domain.Transaction) error {
	if r.finished {
		return ErrRouterFinished
	}

	inbox, ok := r.handles[msg.Client]
	if !ok {
		inbox = r.spawn(ctx, msg.Client)
	}

	select {
	case inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) spawn(ctx context.Context, client domain.ClientID) chan<- domain.Transaction {
	m := newAccountMachine(client, r.accountBuffer, r.results, r.recorder)
	r.handles[client] = m.inbox

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		m.run(ctx)
	}()

	logger.Debug(ctx, "account state machine started", "client", client)
	return m.inbox
}

// Finish 向所有状态机广播停机，并等待它们各自发出最终快照后返回
func (r *Router) Finish() {
	if r.finished {
		return
	}
	r.finished = true

	for _, inbox := range r.handles {
		close(inbox)
	}
	r.wg.Wait()
}

// Run 消费 input 直到其关闭或 ctx 结束，返回前总会调用 Finish
func (r *Router) Run(ctx context.Context, input <-chan domain.Transaction) error {
	defer r.Finish()

	for msg := range input {
		if err := r.Route(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Accounts 已创建的状态机数量
func (r *Router) Accounts() int {
	return len(r.handles)
}
