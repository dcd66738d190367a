// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleloader

import (
	"database/sql"
	"math/big"
	"net"
	"strings"

	_ "modernc.org/sqlite"

	"grimm.is/flywall/internal/errors"
	"grimm.is/flywall/internal/rule"
)

// DB is the persistent rule store collaborator (spec §6.4): a `rules`
// table with exactly the columns of spec §3.1 plus an `id` primary key.
// DB only speaks the schema's contract; ApplyMigrations in migrations.go
// is the only thing that changes the schema itself.
type DB struct {
	conn *sql.DB
}

// OpenDB opens the SQLite-equivalent database at path. Schema migrations
// are expected to have already been applied via ApplyMigrations (spec
// §6.4, §6.6 --migrations).
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "opening rule database %s", path)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// LoadAll selects every row from `rules` (spec §4.6: "SELECT all rows from
// rules; map each row to a Rule; set from_db = true; rule_id = row.id").
func (d *DB) LoadAll() ([]rule.Rule, error) {
	rows, err := d.conn.Query(`
		SELECT id, name, "order", enabled, input, output, v4, v6, tcp, udp,
		       src_addr, src_prefix_len, src_port_start, src_port_end,
		       dst_addr, dst_prefix_len, dst_port_start, dst_port_end,
		       ifindex, action
		FROM rules
	`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "querying rules table")
	}
	defer rows.Close()

	var out []rule.Rule
	for rows.Next() {
		var (
			id                                       int64
			name, srcAddr, dstAddr, action           string
			order                                    int32
			enabled, input, output, v4, v6, tcp, udp bool
			srcPrefix, dstPrefix                     uint8
			srcStart, srcEnd, dstStart, dstEnd       uint16
			ifindex                                  uint32
		)
		if err := rows.Scan(
			&id, &name, &order, &enabled, &input, &output, &v4, &v6, &tcp, &udp,
			&srcAddr, &srcPrefix, &srcStart, &srcEnd,
			&dstAddr, &dstPrefix, &dstStart, &dstEnd,
			&ifindex, &action,
		); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "scanning rules row")
		}

		r := rule.Rule{
			RuleID:  uint32(id),
			Name:    name,
			Order:   order,
			Enabled: enabled,
			Input:   input,
			Output:  output,
			V4:      v4,
			V6:      v6,
			TCP:     tcp,
			UDP:     udp,
			IfIndex: ifindex,
			Action:  rule.Action(action),
			FromDB:  true,
		}
		r.Source, err = addrToHalf(srcAddr, srcPrefix, v6, rule.PortRange{Start: srcStart, End: srcEnd})
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "rule row id=%d source address", id)
		}
		r.Destination, err = addrToHalf(dstAddr, dstPrefix, v6, rule.PortRange{Start: dstStart, End: dstEnd})
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "rule row id=%d destination address", id)
		}

		if err := r.Validate(); err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "rule row id=%d", id)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "iterating rules rows")
	}
	return out, nil
}

// addrToHalf parses a stored address column into a rule.Half. Spec §6.4
// allows IPv6 addresses in either canonical or "0xHEX" form; when the
// canonical parse fails on a v6 column, fall back to treating the
// 0x-stripped remainder as a base-16 big-endian 128-bit value, mirroring
// the original loader's parse_ipv6 (falls back to from_str_radix on a
// canonical-parse miss). A string that is neither is a validation error,
// not a silently-zeroed address.
func addrToHalf(addr string, prefixLen uint8, v6 bool, ports rule.PortRange) (rule.Half, error) {
	if addr == "" {
		return rule.Half{Ports: ports}, nil
	}
	if ip := net.ParseIP(addr); ip != nil {
		return rule.HalfFromNet(ip, prefixLen, v6, ports), nil
	}
	if v6 {
		if stripped, ok := strings.CutPrefix(addr, "0x"); ok {
			n, ok := new(big.Int).SetString(stripped, 16)
			if !ok {
				return rule.Half{}, errors.Errorf(errors.KindValidation, "invalid IPv6 hex address %q", addr)
			}
			raw := n.Bytes()
			if len(raw) > 16 {
				return rule.Half{}, errors.Errorf(errors.KindValidation, "IPv6 hex address %q overflows 128 bits", addr)
			}
			h := rule.Half{PrefixLen: prefixLen, Ports: ports}
			copy(h.V6Addr[16-len(raw):], raw)
			return h, nil
		}
	}
	return rule.Half{}, errors.Errorf(errors.KindValidation, "invalid address %q", addr)
}

// Persist implements rulestore.Persister: it upserts a single rule by id
// (spec §4.5 change()). CreateRule does not use it; new rules go through
// InsertNew.
func (d *DB) Persist(r rule.Rule) error {
	_, err := d.conn.Exec(`
		INSERT INTO rules (
			id, name, "order", enabled, input, output, v4, v6, tcp, udp,
			src_addr, src_prefix_len, src_port_start, src_port_end,
			dst_addr, dst_prefix_len, dst_port_start, dst_port_end,
			ifindex, action
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, "order"=excluded."order", enabled=excluded.enabled,
			input=excluded.input, output=excluded.output, v4=excluded.v4, v6=excluded.v6,
			tcp=excluded.tcp, udp=excluded.udp,
			src_addr=excluded.src_addr, src_prefix_len=excluded.src_prefix_len,
			src_port_start=excluded.src_port_start, src_port_end=excluded.src_port_end,
			dst_addr=excluded.dst_addr, dst_prefix_len=excluded.dst_prefix_len,
			dst_port_start=excluded.dst_port_start, dst_port_end=excluded.dst_port_end,
			ifindex=excluded.ifindex, action=excluded.action
	`,
		r.RuleID, r.Name, r.Order, r.Enabled, r.Input, r.Output, r.V4, r.V6, r.TCP, r.UDP,
		formatAddr(r.Source, r.V6), r.Source.PrefixLen, r.Source.Ports.Start, r.Source.Ports.End,
		formatAddr(r.Destination, r.V6), r.Destination.PrefixLen, r.Destination.Ports.Start, r.Destination.Ports.End,
		r.IfIndex, string(r.Action),
	)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "persisting rule %d", r.RuleID)
	}
	return nil
}

// InsertNew inserts a brand-new rule and returns the id SQLite assigned
// (spec §4.6/§4.8 CreateRule: "persist via C6; assign id").
func (d *DB) InsertNew(r rule.Rule) (uint32, error) {
	res, err := d.conn.Exec(`
		INSERT INTO rules (
			name, "order", enabled, input, output, v4, v6, tcp, udp,
			src_addr, src_prefix_len, src_port_start, src_port_end,
			dst_addr, dst_prefix_len, dst_port_start, dst_port_end,
			ifindex, action
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Name, r.Order, r.Enabled, r.Input, r.Output, r.V4, r.V6, r.TCP, r.UDP,
		formatAddr(r.Source, r.V6), r.Source.PrefixLen, r.Source.Ports.Start, r.Source.Ports.End,
		formatAddr(r.Destination, r.V6), r.Destination.PrefixLen, r.Destination.Ports.Start, r.Destination.Ports.End,
		r.IfIndex, string(r.Action),
	)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindUnavailable, "inserting new rule")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindUnavailable, "reading new rule id")
	}
	return uint32(id), nil
}

func formatAddr(h rule.Half, v6 bool) string {
	if v6 {
		if h.V6Addr == ([16]byte{}) {
			return ""
		}
		return net.IP(h.V6Addr[:]).String()
	}
	if h.V4Addr == ([4]byte{}) {
		return ""
	}
	return net.IP(h.V4Addr[:]).String()
}
