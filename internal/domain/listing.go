package domain

// Listing 外部房源数据（来自房源 API，字段取消费所需的子集）
type Listing struct {
	ZPID       string  `json:"zpid"`       // 房源唯一标识
	Address    string  `json:"address"`    // 街道地址
	City       string  `json:"city"`
	State      string  `json:"state"`
	Price      uint64  `json:"price"`      // 挂牌价（美元，整数）
	ImageURL   string  `json:"imageUrl"`
	Bedrooms   float64 `json:"bedrooms"`   // 上游可能返回 2.5 这类值
	Bathrooms  float64 `json:"bathrooms"`
	LivingArea uint64  `json:"livingArea"` // 建筑面积（平方英尺）
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// Valid 房源是否可用于开局（必须有标识和正的挂牌价）
func (l *Listing) Valid() bool {
	return l != nil && l.ZPID != "" && l.Price > 0
}
