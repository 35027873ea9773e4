// Package requestcode 生成外部调度器使用的确定性唤醒标识。
//
// 标识必须跨进程重启稳定：进程随机化的字符串哈希会在重启后算出不同的
// request code，导致旧的系统唤醒无法被取消（孤儿化）。因此这里固定使用
// FNV-1a 32 位哈希。不同 (event, rule) 对撞到同一 code 的概率被接受为
// 已知限制，不做解决。
package requestcode

import (
	"hash/fnv"
)

// separator 防止 ("ab","c") 与 ("a","bc") 产生同一哈希输入
const separator = "|"

// For 计算 (eventID, ruleID) 对应的确定性 request code
func For(eventID, ruleID string) int32 {
	h := fnv.New32a()
	h.Write([]byte(eventID))
	h.Write([]byte(separator))
	h.Write([]byte(ruleID))
	return int32(h.Sum32())
}
