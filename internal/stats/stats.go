// Package stats は更新記録の公開時刻列から更新間隔統計を計算する。
// 平均更新間隔（日）と次回更新の予測時刻を導出する純粋関数のみを提供し、
// 状態は一切持たない。
package stats

import (
	"math"

	"github.com/hitoshi/bilitrack/internal/model"
)

// secondsPerDay は1日を86400秒として扱う。
const secondsPerDay = 24 * 3600

// Calculate は公開時刻列（エポック秒、降順）から更新間隔統計を計算する。
// サンプルが2件未満の場合、平均間隔と予測時刻はnilになる。
// 平均間隔は小数2桁に丸め、予測時刻は 最新公開時刻 + 平均間隔*86400 の
// 整数エポック秒とする。
func Calculate(publishTimes []int64) model.UpdateStats {
	if len(publishTimes) < 2 {
		s := model.UpdateStats{
			TotalVideos: len(publishTimes),
		}
		if len(publishTimes) > 0 {
			last := publishTimes[0]
			s.LastUpdateTime = &last
		}
		return s
	}

	// 隣接する公開時刻の間隔（日）を集める
	intervals := make([]float64, 0, len(publishTimes)-1)
	for i := 0; i < len(publishTimes)-1; i++ {
		intervals = append(intervals, float64(publishTimes[i]-publishTimes[i+1])/secondsPerDay)
	}

	var sum float64
	for _, v := range intervals {
		sum += v
	}
	average := sum / float64(len(intervals))

	last := publishTimes[0]
	prediction := int64(float64(last) + average*secondsPerDay)
	rounded := math.Round(average*100) / 100

	return model.UpdateStats{
		AverageIntervalDays:  &rounded,
		NextUpdatePrediction: &prediction,
		TotalVideos:          len(publishTimes),
		LastUpdateTime:       &last,
		IntervalsCount:       len(intervals),
	}
}

// CalculateBatch は複数監視対象の公開時刻列をまとめて統計計算する。
// 監視対象IDごとに独立して計算するため、各IDの結果はCalculateを
// 個別に呼んだ場合と常に一致する。
func CalculateBatch(timesByMonitor map[int64][]int64) map[int64]model.UpdateStats {
	results := make(map[int64]model.UpdateStats, len(timesByMonitor))
	for id, times := range timesByMonitor {
		results[id] = Calculate(times)
	}
	return results
}
