package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// 业务拒绝原因。账户状态机将其视为静默的空操作，不会向上游传播
var (
	ErrAccountLocked       = errors.New("account locked")
	ErrInsufficientFunds   = errors.New("insufficient available funds")
	ErrTransactionNotFound = errors.New("referenced deposit not found")
	ErrNotDisputable       = errors.New("deposit is not disputable")
	ErrNotDisputed         = errors.New("deposit is not under dispute")
)

// RejectionReason 将拒绝原因映射为指标与日志使用的短标签
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, ErrNotDisputable):
		return "not_disputable"
	case errors.Is(err, ErrNotDisputed):
		return "not_disputed"
	case errors.Is(err, ErrInvalidTransaction):
		return "invalid"
	default:
		return "unknown"
	}
}

// DisputeStatus 充值记录的争议状态
type DisputeStatus uint8

const (
	DisputeNone        DisputeStatus = iota // 未争议
	DisputeOpen                             // 争议中，资金已冻结
	DisputeResolved                         // 争议已解决，资金已退回可用余额
	DisputeChargedBack                      // 已拒付，账户被锁定
)

func (s DisputeStatus) String() string {
	switch s {
	case DisputeNone:
		return "none"
	case DisputeOpen:
		return "disputed"
	case DisputeResolved:
		return "resolved"
	case DisputeChargedBack:
		return "charged_back"
	default:
		return "unknown"
	}
}

// Disputable 已解决的充值可以再次发起争议
func (s DisputeStatus) Disputable() bool {
	return s == DisputeNone || s == DisputeResolved
}

// DepositRecord 争议台账中的一条充值记录
type DepositRecord struct {
	Amount decimal.Decimal
	Status DisputeStatus
}

// Account 客户账户聚合根
// 只由所属的账户状态机顺序修改，不做任何并发保护
type Account struct {
	Client ClientID
	// 可用余额，争议已花费的充值后可能为负
	Available decimal.Decimal
	// 冻结余额，始终 >= 0
	Held   decimal.Decimal
	Locked bool

	// 争议台账：只记录充值，提现不可争议
	deposits map[TxID]*DepositRecord
}

// NewAccount 创建零余额、未锁定的账户
func NewAccount(client ClientID) *Account {
	return &Account{
		Client:    client,
		Available: decimal.Zero,
		Held:      decimal.Zero,
		deposits:  make(map[TxID]*DepositRecord),
	}
}

// Total 总余额 = 可用余额 + 冻结余额
func (a *Account) Total() decimal.Decimal {
	return a.Available.Add(a.Held)
}

// Apply 按交易类型分派。返回的错误均为业务拒绝，账户状态保持不变
func (a *Account) Apply(t Transaction) error {
	switch t.Kind {
	case KindDeposit:
		return a.Deposit(t.Tx, t.Amount.Decimal)
	case KindWithdrawal:
		return a.Withdraw(t.Amount.Decimal)
	case KindDispute:
		return a.Dispute(t.Tx)
	case KindResolve:
		return a.Resolve(t.Tx)
	case KindChargeback:
		return a.Chargeback(t.Tx)
	default:
		return ErrInvalidTransaction
	}
}

// Deposit 充值，并登记到争议台账（同一 tx 重复充值会覆盖旧记录）
func (a *Account) Deposit(tx TxID, amount decimal.Decimal) error {
	if a.Locked {
		return ErrAccountLocked
	}
	a.Available = a.Available.Add(amount)
	a.deposits[tx] = &DepositRecord{Amount: amount, Status: DisputeNone}
	return nil
}

// Withdraw 提现，可用余额不足时拒绝
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if a.Locked {
		return ErrAccountLocked
	}
	if a.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.Available = a.Available.Sub(amount)
	return nil
}

// Dispute 冻结被争议充值的全额 (Available -> Held)
func (a *Account) Dispute(tx TxID) error {
	if a.Locked {
		return ErrAccountLocked
	}
	rec, ok := a.deposits[tx]
	if !ok {
		return ErrTransactionNotFound
	}
	if !rec.Status.Disputable() {
		return ErrNotDisputable
	}
	a.Available = a.Available.Sub(rec.Amount)
	a.Held = a.Held.Add(rec.Amount)
	rec.Status = DisputeOpen
	return nil
}

// Resolve 解冻争议资金 (Held -> Available)
func (a *Account) Resolve(tx TxID) error {
	if a.Locked {
		return ErrAccountLocked
	}
	rec, err := a.disputed(tx)
	if err != nil {
		return err
	}
	a.Held = a.Held.Sub(rec.Amount)
	a.Available = a.Available.Add(rec.Amount)
	rec.Status = DisputeResolved
	return nil
}

// Chargeback 扣除冻结资金并锁定账户
func (a *Account) Chargeback(tx TxID) error {
	if a.Locked {
		return ErrAccountLocked
	}
	rec, err := a.disputed(tx)
	if err != nil {
		return err
	}
	a.Held = a.Held.Sub(rec.Amount)
	rec.Status = DisputeChargedBack
	a.Locked = true
	return nil
}

func (a *Account) disputed(tx TxID) (*DepositRecord, error) {
	rec, ok := a.deposits[tx]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if rec.Status != DisputeOpen {
		return nil, ErrNotDisputed
	}
	return rec, nil
}

// LookupDeposit 查询台账中的充值记录（返回副本）
func (a *Account) LookupDeposit(tx TxID) (DepositRecord, bool) {
	rec, ok := a.deposits[tx]
	if !ok {
		return DepositRecord{}, false
	}
	return *rec, true
}

// Snapshot 生成当前账户状态的只读快照
func (a *Account) Snapshot() Snapshot {
	return Snapshot{
		Client:    a.Client,
		Available: a.Available,
		Held:      a.Held,
		Total:     a.Total(),
		Locked:    a.Locked,
	}
}

// Snapshot 账户最终状态，由状态机在退出时发送给收集器
type Snapshot struct {
	Client    ClientID
	Available decimal.Decimal
	Held      decimal.Decimal
	Total     decimal.Decimal
	Locked    bool
}
