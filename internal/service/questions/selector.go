package questions

import "math/rand/v2"

// Next 在尚未提问的下标中均匀随机挑选一个。
// 所有下标都已提问时返回 (-1, false)，调用方应跳过出题步骤而不是报错。
// 结果只取决于入参，rng 为 nil 时使用全局随机源。
func Next(questions []string, asked map[int]struct{}, rng *rand.Rand) (int, bool) {
	remaining := make([]int, 0, len(questions))
	for i := range questions {
		if _, ok := asked[i]; !ok {
			remaining = append(remaining, i)
		}
	}

	if len(remaining) == 0 {
		return -1, false
	}

	var pick int
	if rng != nil {
		pick = rng.IntN(len(remaining))
	} else {
		pick = rand.IntN(len(remaining))
	}
	return remaining[pick], true
}

// NewRand 创建一个可复现的随机源；seed 为 nil 时使用随机种子。
func NewRand(seed *uint64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}
