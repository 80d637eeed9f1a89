package server

import (
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Location 一轮的目标坐标，选定后不可变
type Location struct {
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
}

// LocationSource 每轮提供一个目标坐标
type LocationSource interface {
	Pick() Location
}

// SampleLocations 内置的默认地点
var SampleLocations = []Location{
	{Name: "Eiffel Tower, Paris", Lat: 48.8584, Lon: 2.2945},
	{Name: "Times Square, New York", Lat: 40.7580, Lon: -73.9855},
	{Name: "Shibuya Crossing, Tokyo", Lat: 35.6595, Lon: 139.7005},
	{Name: "Colosseum, Rome", Lat: 41.8902, Lon: 12.4922},
	{Name: "Brandenburg Gate, Berlin", Lat: 52.5163, Lon: 13.3777},
}

// RandomSource 从列表中均匀随机选取
type RandomSource struct {
	locations []Location
}

func NewRandomSource(locations []Location) *RandomSource {
	if len(locations) == 0 {
		locations = SampleLocations
	}
	return &RandomSource{locations: locations}
}

func (s *RandomSource) Pick() Location {
	return s.locations[rand.Intn(len(s.locations))]
}

// SequenceSource 按固定顺序循环返回（可复现，便于测试与演示）
type SequenceSource struct {
	locations []Location
	next      atomic.Uint64
}

func NewSequenceSource(locations ...Location) *SequenceSource {
	if len(locations) == 0 {
		locations = SampleLocations
	}
	return &SequenceSource{locations: locations}
}

func (s *SequenceSource) Pick() Location {
	i := s.next.Add(1) - 1
	return s.locations[i%uint64(len(s.locations))]
}

type locationsFile struct {
	Locations []Location `yaml:"locations"`
}

// LoadLocations 从 YAML 数据集加载地点列表
func LoadLocations(path string) ([]Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	var f locationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse locations file: %w", err)
	}
	if len(f.Locations) == 0 {
		return nil, fmt.Errorf("locations file %s has no entries", path)
	}
	for i, l := range f.Locations {
		if !validCoords(l.Lat, l.Lon) {
			return nil, fmt.Errorf("location %d (%q): coordinates out of range", i, l.Name)
		}
	}
	return f.Locations, nil
}

func validCoords(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
