package application

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/txengine/internal/account/domain"
	"github.com/wyfcoding/txengine/pkg/logger"
)

// accountMachine 单个客户的账户状态机
// 独占账户与争议台账，在自己的 goroutine 中按到达顺序逐条处理交易。
// 收件箱关闭即为停机信号：处理完已转发的全部交易后发送一次最终快照并退出
type accountMachine struct {
	account  *domain.Account
	inbox    chan domain.Transaction
	results  chan<- domain.Snapshot
	recorder Recorder
}

func newAccountMachine(client domain.ClientID, buffer int, results chan<- domain.Snapshot, recorder Recorder) *accountMachine {
	return &accountMachine{
		account:  domain.NewAccount(client),
		inbox:    make(chan domain.Transaction, buffer),
		results:  results,
		recorder: recorder,
	}
}

func (m *accountMachine) run(ctx context.Context) {
	m.recorder.AccountStarted()
	defer m.recorder.AccountStopped()

	for msg := range m.inbox {
		m.apply(ctx, msg)
	}

	select {
	case m.results <- m.account.Snapshot():
	case <-ctx.Done():
		logger.Warn(ctx, "dropping final snapshot, pipeline cancelled", "client", m.account.Client)
	}
}

func (m *accountMachine) apply(ctx context.Context, msg domain.Transaction) {
	kind := msg.Kind.String()
	if err := m.account.Apply(msg); err != nil {
		reason := domain.RejectionReason(err)
		m.recorder.TransactionRejected(kind, reason)
		if !logger.Enabled(ctx, slog.LevelDebug) {
			return
		}
		logger.Debug(ctx, "transaction rejected",
			"client", msg.Client,
			"tx", msg.Tx,
			"kind", kind,
			"reason", reason,
		)
		return
	}
	m.recorder.TransactionApplied(kind)
}
