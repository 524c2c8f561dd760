package village

import (
	"container/list"
	"sync"
	"time"
)

// 文档注释：进程内 LRU 缓存（坐标文本为键）
// 背景：巡检人员在同一地点反复定位，短周期内重复判定同一坐标；缓存命中可跳过逐区判定。
// 约束：键由调用方按 6 位小数（约 0.1 米）构造，不做网格聚合，避免跨越村界的格子返回错误村里。
type LRU struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
}

type kv struct {
	k   string
	v   Match
	exp time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *LRU) Get(k string) (Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[k]
	if !ok {
		return Match{}, false
	}
	it := e.Value.(kv)
	if c.ttl > 0 && time.Now().After(it.exp) {
		c.lst.Remove(e)
		delete(c.dict, k)
		return Match{}, false
	}
	c.lst.MoveToFront(e)
	return it.v, true
}

func (c *LRU) Set(k string, v Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := kv{k: k, v: v, exp: time.Now().Add(c.ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = item
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(item)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(kv).k)
		c.lst.Remove(back)
	}
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
