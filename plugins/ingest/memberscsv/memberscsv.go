// Package memberscsv 解析 Substack 订阅者导出 CSV，按会员类别分组。
package memberscsv

import (
	"context"
	"encoding/csv"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/juju/errors"

	"ghmigrate/pkg/contract"
)

// 会员类别。
const (
	Free = "free"
	Paid = "paid"
	Comp = "comp"
	Skip = "skip"
)

// Options 为订阅者导出的解析选项。
type Options struct {
	// Labels: 追加到每个会员的标签。
	Labels []string `json:"labels,omitempty"`
	// CategoryLabels: 按类别追加的标签，如 {"comp":"substack-comp"}。
	CategoryLabels map[string]string `json:"category_labels,omitempty"`
	// IncludeUnsubscribed: 为 false 时 email_disabled=true 的会员归入 skip。
	IncludeUnsubscribed *bool `json:"include_unsubscribed,omitempty"`
	// Note: 写入每条记录的备注。
	Note string `json:"note,omitempty"`
}

// Ingestor 实现 contract.Ingestor。跨文件去重（按小写邮箱）。
type Ingestor struct {
	labels         []string
	categoryLabels map[string]string
	unsubscribed   bool
	note           string
	seen           map[string]struct{}
}

// New 创建 Ingestor；opts 可为 nil。
func New(opts *Options) *Ingestor {
	in := &Ingestor{unsubscribed: true, seen: map[string]struct{}{}}
	if opts == nil {
		return in
	}
	for _, l := range opts.Labels {
		if l = strings.TrimSpace(l); l != "" {
			in.labels = append(in.labels, l)
		}
	}
	in.categoryLabels = opts.CategoryLabels
	if opts.IncludeUnsubscribed != nil {
		in.unsubscribed = *opts.IncludeUnsubscribed
	}
	in.note = opts.Note
	return in
}

var _ contract.Ingestor = (*Ingestor)(nil)

// 已知列；其余列忽略。
const (
	colEmail    = "email"
	colActive   = "active_subscription"
	colPlan     = "plan"
	colDisabled = "email_disabled"
	colCreated  = "created_at"
	colStripe   = "stripe_connected_customer_id"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Ingest 逐行解析；表头缺少 email 列视为格式错误。
func (in *Ingestor) Ingest(ctx context.Context, fileID contract.FileID, r io.Reader, into *contract.Ingested) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return errors.Annotatef(contract.ErrInvalidInput, "memberscsv: %s is empty", fileID)
	}
	if err != nil {
		return errors.Annotatef(err, "memberscsv: read header of %s", fileID)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols[colEmail]; !ok {
		return errors.Annotatef(contract.ErrInvalidInput, "memberscsv: %s has no %q column", fileID, colEmail)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotatef(err, "memberscsv: %s", fileID)
		}
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		in.add(fileID, get, into)
	}
}

func (in *Ingestor) add(fileID contract.FileID, get func(string) string, into *contract.Ingested) {
	raw := get(colEmail)
	email := strings.ToLower(raw)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		into.AddMember(Skip, contract.Member{Email: raw, Reason: "invalid email"})
		return
	}
	if email != raw {
		into.Updates = append(into.Updates, contract.Notice{Source: fileID, RecordID: email, Message: "email normalized from " + raw})
	}
	if _, dup := in.seen[email]; dup {
		into.AddMember(Skip, contract.Member{Email: email, Reason: "duplicate email"})
		return
	}
	in.seen[email] = struct{}{}

	disabled := parseBool(get(colDisabled))
	if disabled && !in.unsubscribed {
		into.AddMember(Skip, contract.Member{Email: email, Reason: "unsubscribed"})
		return
	}

	m := contract.Member{
		Email:              email,
		SubscribedToEmails: !disabled,
		StripeCustomerID:   get(colStripe),
		Note:               in.note,
	}
	if v := get(colCreated); v != "" {
		if t, ok := parseTime(v); ok {
			m.CreatedAt = t
		} else {
			into.Notices = append(into.Notices, contract.Notice{Source: fileID, RecordID: email, Message: "unparseable created_at " + v})
		}
	}

	cat := in.category(fileID, get, &m, into)
	m.ComplimentaryPlan = cat == Comp
	if cat != Paid {
		m.StripeCustomerID = ""
	}
	m.Labels = append(m.Labels, in.labels...)
	if l := in.categoryLabels[cat]; l != "" {
		m.Labels = append(m.Labels, l)
	}
	into.AddMember(cat, m)
}

// category: comp/gift 计为 comp；有效付费且有 Stripe 客户号计为 paid，缺客户号降为 comp。
func (in *Ingestor) category(fileID contract.FileID, get func(string) string, m *contract.Member, into *contract.Ingested) string {
	plan := strings.ToLower(get(colPlan))
	switch plan {
	case "comp":
		return Comp
	case "gift":
		into.Updates = append(into.Updates, contract.Notice{Source: fileID, RecordID: m.Email, Message: "gift subscription imported as complimentary"})
		return Comp
	}
	active := parseBool(get(colActive))
	if !active || plan == "" || plan == "free" {
		return Free
	}
	if m.StripeCustomerID == "" {
		into.Updates = append(into.Updates, contract.Notice{Source: fileID, RecordID: m.Email, Message: "paid member without stripe customer id imported as complimentary"})
		return Comp
	}
	return Paid
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func parseTime(s string) (time.Time, bool) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
