package latchman

import (
	"strconv"
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
)

// ZNodeName holds a sequential znode name split into its prefix and the
// store-assigned sequence number. Protected creates prepend a GUID to the
// name, so ordering must come from the trailing sequence, not the raw string.
type ZNodeName struct {
	name     string
	prefix   string
	sequence int
}

func NewZNodeName(name string) *ZNodeName {
	z := &ZNodeName{
		name:     name,
		prefix:   name,
		sequence: -1,
	}
	idx := strings.LastIndex(name, "-")
	if idx >= 0 {
		z.prefix = name[0:idx]
		seq, err := strconv.ParseInt(name[idx+1:], 10, 64)
		if err == nil {
			z.sequence = int(seq)
		}
	}
	return z
}

func (n *ZNodeName) Name() string {
	return n.name
}

var ZNodeNameComparator = utils.Comparator(func(a interface{}, b interface{}) int {
	aAsserted := a.(*ZNodeName)
	bAsserted := b.(*ZNodeName)

	answer := aAsserted.sequence - bAsserted.sequence
	if answer != 0 {
		return answer
	}
	return utils.StringComparator(aAsserted.prefix, bAsserted.prefix)
})

// sortedLatchNames orders raw child names ascending by sequence, dropping
// names that carry no sequence suffix.
func sortedLatchNames(children []string) []string {
	set := treeset.NewWith(ZNodeNameComparator)
	for _, child := range children {
		n := NewZNodeName(child)
		if n.sequence < 0 {
			continue
		}
		set.Add(n)
	}
	sorted := make([]string, 0, set.Size())
	for _, v := range set.Values() {
		sorted = append(sorted, v.(*ZNodeName).Name())
	}
	return sorted
}

func path2Seq(path string) (int64, error) {
	idx := strings.LastIndex(path, "-")
	if idx == -1 {
		return 0, ErrBadPath
	}
	seq, err := strconv.ParseInt(path[idx+1:], 10, 64)
	return seq, err
}

func nodeFromPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return path
	}
	return path[idx+1:]
}
