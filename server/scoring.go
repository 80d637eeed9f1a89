package server

import "math"

const (
	// EarthRadiusKm 地球平均半径
	EarthRadiusKm = 6371.0
	// NoGuessDistanceKm 本轮未提交猜测的玩家按此距离计分
	NoGuessDistanceKm = 20000.0
	// DamagePerKm 每公里的基础扣分
	DamagePerKm = 10
	// MultiplierStep 每一轮倍率的增量
	MultiplierStep = 0.25
)

// Haversine 计算两点之间的大圆距离（公里），输入为角度
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// 浮点误差可能让 a 略大于 1
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Multiplier 第 round 轮的伤害倍率：第 1 轮为 1.0，之后每轮 +0.25
func Multiplier(round int) float64 {
	return 1 + float64(round-1)*MultiplierStep
}

// Damage 扣分 = floor(距离 × 10 × 倍率)，永不为负
func Damage(distKm, multiplier float64) int {
	d := math.Floor(distKm * DamagePerKm * multiplier)
	if d < 0 || math.IsNaN(d) {
		return 0
	}
	return int(d)
}

// RoundDistance 返回玩家本轮的计分距离；没有猜测时使用惩罚距离
func RoundDistance(g *Guess, target Location) float64 {
	if g == nil {
		return NoGuessDistanceKm
	}
	return Haversine(target.Lat, target.Lon, g.Lat, g.Lon)
}

// RoundKm 保留两位小数，用于结果广播
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// Alive 分数严格大于 0 才算存活
func Alive(score int) bool {
	return score > 0
}
