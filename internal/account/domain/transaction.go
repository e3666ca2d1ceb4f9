// 包 domain 交易引擎的领域模型：交易消息、客户账户与争议台账
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale 金额固定保留的小数位数
const AmountScale = 4

// ErrInvalidTransaction 交易消息不合法（类型未知、金额缺失或为负、精度超限）
var ErrInvalidTransaction = errors.New("invalid transaction")

// ClientID 客户 ID
type ClientID uint16

// TxID 全局唯一的交易 ID
type TxID uint32

// Kind 交易类型
type Kind uint8

const (
	KindDeposit    Kind = iota + 1 // 充值
	KindWithdrawal                 // 提现
	KindDispute                    // 争议
	KindResolve                    // 争议解决
	KindChargeback                 // 拒付
)

var kindNames = map[Kind]string{
	KindDeposit:    "deposit",
	KindWithdrawal: "withdrawal",
	KindDispute:    "dispute",
	KindResolve:    "resolve",
	KindChargeback: "chargeback",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// RequiresAmount 充值和提现必须携带金额，其余类型通过 tx 引用历史充值
func (k Kind) RequiresAmount() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// ParseKind 解析 CSV 中的交易类型，大小写和首尾空白不敏感
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, s)
}

// Transaction 交易消息
// 由解析器生成后不再修改，以值的形式经由路由器传递给账户状态机
type Transaction struct {
	Kind   Kind
	Client ClientID
	Tx     TxID
	// Amount 仅充值和提现有效
	Amount decimal.NullDecimal
}

// NewTransaction 创建并校验交易消息
func NewTransaction(kind Kind, client ClientID, tx TxID, amount decimal.NullDecimal) (Transaction, error) {
	if _, ok := kindNames[kind]; !ok {
		return Transaction{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidTransaction, kind)
	}

	if kind.RequiresAmount() {
		if !amount.Valid {
			return Transaction{}, fmt.Errorf("%w: %s requires an amount", ErrInvalidTransaction, kind)
		}
		if amount.Decimal.IsNegative() {
			return Transaction{}, fmt.Errorf("%w: negative amount %s", ErrInvalidTransaction, amount.Decimal)
		}
		if !amount.Decimal.Equal(amount.Decimal.Truncate(AmountScale)) {
			return Transaction{}, fmt.Errorf("%w: amount %s exceeds %d decimal places", ErrInvalidTransaction, amount.Decimal, AmountScale)
		}
	} else if amount.Valid {
		return Transaction{}, fmt.Errorf("%w: %s must not carry an amount", ErrInvalidTransaction, kind)
	}

	return Transaction{Kind: kind, Client: client, Tx: tx, Amount: amount}, nil
}

func (t Transaction) String() string {
	if t.Amount.Valid {
		return fmt.Sprintf("%s{client: %d, tx: %d, amount: %s}", t.Kind, t.Client, t.Tx, t.Amount.Decimal.StringFixed(AmountScale))
	}
	return fmt.Sprintf("%s{client: %d, tx: %d}", t.Kind, t.Client, t.Tx)
}
