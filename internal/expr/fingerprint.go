package expr

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DomainFingerprint is the domain prefix of expression fingerprints.
// The version suffix allows the encoding to change without colliding with
// fingerprints persisted by an earlier release.
const DomainFingerprint = "navsql/expr/v1"

// Fingerprint returns the structural hash of e, used as the compiled-query
// cache key.
//
// Two alpha-equivalent trees share a fingerprint: lambda parameters are
// encoded by binding depth, not by name or identity. Strings are NFC
// normalized so that visually identical literals hash the same.
// Format: hex(SHA256(domain + 0x00 + canonical encoding)).
func Fingerprint(e Expr) string {
	enc := &encoder{depth: map[*Parameter]int{}}
	enc.expr(e)

	h := sha256.New()
	h.Write([]byte(DomainFingerprint))
	h.Write([]byte{0x00})
	h.Write(enc.buf)
	return hex.EncodeToString(h.Sum(nil))
}

// encoder writes a length-prefixed prefix encoding of a tree. Every node
// starts with a one-byte tag; variable-length values carry their length.
type encoder struct {
	buf   []byte
	depth map[*Parameter]int
	bound int
}

const (
	tagNil byte = iota
	tagConstant
	tagParameter
	tagFreeParameter
	tagSource
	tagMember
	tagUnary
	tagBinary
	tagConditional
	tagLambda
	tagNew
	tagCall
	tagJoin
	tagNestedResult
	tagGroupAggregate
	tagRowNumber
	tagEmptyMarker
)

func (enc *encoder) byte(b byte) { enc.buf = append(enc.buf, b) }

func (enc *encoder) uint(v uint64) { enc.buf = binary.AppendUvarint(enc.buf, v) }

func (enc *encoder) str(s string) {
	s = norm.NFC.String(s)
	enc.uint(uint64(len(s)))
	enc.buf = append(enc.buf, s...)
}

func (enc *encoder) typ(t *Type) { enc.str(t.String()) }

func (enc *encoder) expr(e Expr) {
	switch n := e.(type) {
	case nil:
		enc.byte(tagNil)
	case *Constant:
		enc.byte(tagConstant)
		enc.typ(n.T)
		enc.value(n.Value)
	case *Parameter:
		if d, ok := enc.depth[n]; ok {
			enc.byte(tagParameter)
			enc.uint(uint64(enc.bound - d))
			return
		}
		// Free parameters only occur in fragments; the name is the best
		// stable identity available.
		enc.byte(tagFreeParameter)
		enc.str(n.Name)
		enc.typ(n.T)
	case *Source:
		enc.byte(tagSource)
		enc.str(n.Entity.Name)
	case *Member:
		enc.byte(tagMember)
		enc.str(n.Name)
		enc.expr(n.X)
	case *Unary:
		enc.byte(tagUnary)
		enc.byte(byte(n.Op))
		enc.typ(n.T)
		enc.expr(n.X)
	case *Binary:
		enc.byte(tagBinary)
		enc.byte(byte(n.Op))
		enc.expr(n.L)
		enc.expr(n.R)
	case *Conditional:
		enc.byte(tagConditional)
		enc.expr(n.Test)
		enc.expr(n.Then)
		enc.expr(n.Else)
	case *Lambda:
		enc.byte(tagLambda)
		enc.uint(uint64(len(n.Params)))
		for _, p := range n.Params {
			enc.typ(p.T)
			enc.bound++
			enc.depth[p] = enc.bound
		}
		enc.expr(n.Body)
		for _, p := range n.Params {
			delete(enc.depth, p)
		}
		enc.bound -= len(n.Params)
	case *New:
		enc.byte(tagNew)
		enc.typ(n.T)
		enc.list(n.Args)
	case *Call:
		enc.byte(tagCall)
		enc.byte(byte(n.Method))
		enc.list(n.Args)
	case *Join:
		enc.byte(tagJoin)
		enc.byte(byte(n.Kind))
		enc.str(n.Alias)
		enc.list(Children(n))
	case *NestedResult:
		enc.byte(tagNestedResult)
		enc.expr(n.Query)
	case *GroupAggregate:
		enc.byte(tagGroupAggregate)
		if n.Intact {
			enc.byte(1)
		} else {
			enc.byte(0)
		}
		enc.list(Children(n))
	case *RowNumber:
		enc.byte(tagRowNumber)
		enc.uint(uint64(len(n.Order)))
		for _, k := range n.Order {
			if k.Desc {
				enc.byte(1)
			} else {
				enc.byte(0)
			}
			enc.expr(k.X)
		}
	case *EmptyMarker:
		enc.byte(tagEmptyMarker)
		enc.expr(n.X)
	default:
		panic(fmt.Sprintf("expr: unhandled node %T", e))
	}
}

func (enc *encoder) list(xs []Expr) {
	enc.uint(uint64(len(xs)))
	for _, x := range xs {
		enc.expr(x)
	}
}

func (enc *encoder) value(v any) {
	switch x := v.(type) {
	case nil:
		enc.byte(0)
	case bool:
		enc.byte(1)
		if x {
			enc.byte(1)
		} else {
			enc.byte(0)
		}
	case int64:
		enc.byte(2)
		enc.buf = binary.AppendVarint(enc.buf, x)
	case float64:
		enc.byte(3)
		enc.buf = binary.BigEndian.AppendUint64(enc.buf, math.Float64bits(x))
	case string:
		enc.byte(4)
		enc.str(x)
	case time.Time:
		enc.byte(5)
		enc.str(x.UTC().Format(time.RFC3339Nano))
	default:
		enc.byte(6)
		enc.str(fmt.Sprintf("%T:%v", v, v))
	}
}
