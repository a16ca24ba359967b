package models

// PoWChallenge 后端下发的工作量证明挑战
type PoWChallenge struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Difficulty int    `json:"difficulty"`
	Signature  string `json:"signature"`
	ExpireAt   int64  `json:"expire_at"` // unix ms
	TargetPath string `json:"target_path"`
}

// PoWSolution 回传给后端的答案，求解失败时 Answer 为 0
type PoWSolution struct {
	Algorithm  string `json:"algorithm"`
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt"`
	Answer     int64  `json:"answer"`
	Signature  string `json:"signature"`
	TargetPath string `json:"target_path"`
}
