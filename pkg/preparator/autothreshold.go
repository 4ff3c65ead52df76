package preparator

import (
	"fmt"
	"math"
	"strings"
)

// ThresholdMethod names a global histogram threshold algorithm.
type ThresholdMethod string

const (
	MethodDefault      ThresholdMethod = "Default"
	MethodIJIsoData    ThresholdMethod = "IJ_IsoData"
	MethodHuang        ThresholdMethod = "Huang"
	MethodIntermodes   ThresholdMethod = "Intermodes"
	MethodIsoData      ThresholdMethod = "IsoData"
	MethodLi           ThresholdMethod = "Li"
	MethodMaxEntropy   ThresholdMethod = "MaxEntropy"
	MethodMean         ThresholdMethod = "Mean"
	MethodMinError     ThresholdMethod = "MinError"
	MethodMinimum      ThresholdMethod = "Minimum"
	MethodMoments      ThresholdMethod = "Moments"
	MethodOtsu         ThresholdMethod = "Otsu"
	MethodPercentile   ThresholdMethod = "Percentile"
	MethodRenyiEntropy ThresholdMethod = "RenyiEntropy"
	MethodShanbhag     ThresholdMethod = "Shanbhag"
	MethodTriangle     ThresholdMethod = "Triangle"
	MethodYen          ThresholdMethod = "Yen"
)

var histogramMethods = map[ThresholdMethod]func([]int) int{
	MethodDefault:      ijDefault,
	MethodIJIsoData:    ijIsoData,
	MethodHuang:        huang,
	MethodIntermodes:   intermodes,
	MethodIsoData:      isoData,
	MethodLi:           li,
	MethodMaxEntropy:   maxEntropy,
	MethodMean:         mean,
	MethodMinError:     minErrorI,
	MethodMinimum:      minimum,
	MethodMoments:      moments,
	MethodOtsu:         otsu,
	MethodPercentile:   percentile,
	MethodRenyiEntropy: renyiEntropy,
	MethodShanbhag:     shanbhag,
	MethodTriangle:     triangle,
	MethodYen:          yen,
}

// HistogramMethods lists the supported method names in display order.
func HistogramMethods() []ThresholdMethod {
	return []ThresholdMethod{
		MethodDefault, MethodIJIsoData, MethodHuang, MethodIntermodes, MethodIsoData,
		MethodLi, MethodMaxEntropy, MethodMean, MethodMinError, MethodMinimum,
		MethodMoments, MethodOtsu, MethodPercentile, MethodRenyiEntropy,
		MethodShanbhag, MethodTriangle, MethodYen,
	}
}

// ParseThresholdMethod matches a method name case-insensitively.
func ParseThresholdMethod(name string) (ThresholdMethod, error) {
	for m := range histogramMethods {
		if strings.EqualFold(string(m), name) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown threshold method %q", ErrConfigInvalid, name)
}

// AutoThresholdLevel runs method over a 256-bin histogram and returns the
// last bin of the lower class. The histogram is not modified.
func AutoThresholdLevel(method ThresholdMethod, histogram []int) (int, error) {
	fn, ok := histogramMethods[method]
	if !ok {
		return 0, fmt.Errorf("%w: unknown threshold method %q", ErrConfigInvalid, method)
	}
	if len(histogram) != 256 {
		return 0, fmt.Errorf("histogram must have 256 bins, got %d", len(histogram))
	}
	data := make([]int, 256)
	copy(data, histogram)
	level := fn(data)
	if level < 0 {
		level = 0
	}
	if level > 255 {
		level = 255
	}
	return level, nil
}

func partialSums(data []int, j int) (a, b, c float64) {
	for i := 0; i <= j; i++ {
		v := float64(data[i])
		a += v
		b += float64(i) * v
		c += float64(i) * float64(i) * v
	}
	return a, b, c
}

// normalized returns the normalized histogram, its cumulative sum P1, the
// complement P2 and the first/last bins with non-trivial mass.
func normalized(data []int) (norm, p1, p2 []float64, first, last int) {
	total := 0.0
	for _, v := range data {
		total += float64(v)
	}
	norm = make([]float64, 256)
	p1 = make([]float64, 256)
	p2 = make([]float64, 256)
	for i, v := range data {
		norm[i] = float64(v) / total
	}
	p1[0] = norm[0]
	p2[0] = 1 - p1[0]
	for i := 1; i < 256; i++ {
		p1[i] = p1[i-1] + norm[i]
		p2[i] = 1 - p1[i]
	}
	const eps = 2.220446049250313e-16
	for i := 0; i < 256; i++ {
		if math.Abs(p1[i]) >= eps {
			first = i
			break
		}
	}
	last = 255
	for i := 255; i >= first; i-- {
		if math.Abs(p2[i]) >= eps {
			last = i
			break
		}
	}
	return norm, p1, p2, first, last
}

func isoDataCore(data []int) int {
	maxValue := len(data) - 1
	count0, countMax := data[0], data[maxValue]
	data[0], data[maxValue] = 0, 0
	defer func() { data[0], data[maxValue] = count0, countMax }()

	lo := 0
	for data[lo] == 0 && lo < maxValue {
		lo++
	}
	hi := maxValue
	for data[hi] == 0 && hi > 0 {
		hi--
	}
	if lo >= hi {
		return len(data) / 2
	}
	moving := lo
	var result float64
	for {
		var sum1, sum2, sum3, sum4 float64
		for i := lo; i <= moving; i++ {
			sum1 += float64(i) * float64(data[i])
			sum2 += float64(data[i])
		}
		for i := moving + 1; i <= hi; i++ {
			sum3 += float64(i) * float64(data[i])
			sum4 += float64(data[i])
		}
		result = (sum1/sum2 + sum3/sum4) / 2
		moving++
		if !(float64(moving+1) <= result && moving < hi-1) {
			break
		}
	}
	return int(math.Round(result))
}

// ijDefault is IJ_IsoData with the modal bin clipped when it dominates the
// histogram.
func ijDefault(data []int) int {
	mode, maxCount := 0, 0
	for i, v := range data {
		if v > maxCount {
			maxCount, mode = v, i
		}
	}
	second := 0
	for i, v := range data {
		if v > second && i != mode {
			second = v
		}
	}
	if maxCount > second*2 && second != 0 {
		data[mode] = int(float64(second) * 1.5)
	}
	return isoDataCore(data)
}

func ijIsoData(data []int) int {
	return isoDataCore(data)
}

func huang(data []int) int {
	first := 0
	for i := 0; i < 256; i++ {
		if data[i] != 0 {
			first = i
			break
		}
	}
	last := 255
	for i := 255; i >= first; i-- {
		if data[i] != 0 {
			last = i
			break
		}
	}
	if first == last {
		return first
	}
	term := 1.0 / float64(last-first)
	mu0 := make([]float64, 256)
	var sumPix, numPix float64
	for i := first; i < 256; i++ {
		sumPix += float64(i) * float64(data[i])
		numPix += float64(data[i])
		mu0[i] = sumPix / numPix
	}
	mu1 := make([]float64, 256)
	sumPix, numPix = 0, 0
	for i := last; i > 0; i-- {
		sumPix += float64(i) * float64(data[i])
		numPix += float64(data[i])
		mu1[i-1] = sumPix / numPix
	}

	entropyTerm := func(count int, muX float64) float64 {
		if muX < 1e-06 || muX > 0.999999 {
			return 0
		}
		return float64(count) * (-muX*math.Log(muX) - (1-muX)*math.Log(1-muX))
	}
	threshold := -1
	minEnt := math.MaxFloat64
	for it := 0; it < 256; it++ {
		ent := 0.0
		for i := 0; i <= it; i++ {
			ent += entropyTerm(data[i], 1/(1+term*math.Abs(float64(i)-mu0[it])))
		}
		for i := it + 1; i < 256; i++ {
			ent += entropyTerm(data[i], 1/(1+term*math.Abs(float64(i)-mu1[it])))
		}
		if ent < minEnt {
			minEnt = ent
			threshold = it
		}
	}
	return threshold
}

func bimodal(y []float64) bool {
	modes := 0
	for k := 1; k < len(y)-1; k++ {
		if y[k-1] < y[k] && y[k+1] < y[k] {
			modes++
			if modes > 2 {
				return false
			}
		}
	}
	return modes == 2
}

func intermodes(data []int) int {
	h := make([]float64, 256)
	for i, v := range data {
		h[i] = float64(v)
	}
	for iter := 0; !bimodal(h); iter++ {
		if iter > 10000 {
			return -1
		}
		previous, current, next := 0.0, 0.0, h[0]
		for i := 0; i < 255; i++ {
			previous = current
			current = next
			next = h[i+1]
			h[i] = (previous + current + next) / 3
		}
		h[255] = (current + next) / 3
	}
	tt := 0
	for i := 1; i < 255; i++ {
		if h[i-1] < h[i] && h[i+1] < h[i] {
			tt += i
		}
	}
	return int(math.Floor(float64(tt) / 2))
}

func isoData(data []int) int {
	g := 0
	for i := 1; i < 256; i++ {
		if data[i] > 0 {
			g = i + 1
			break
		}
	}
	for {
		var l, totl, h, toth int64
		for i := 0; i < g+1 && i < 256; i++ {
			totl += int64(data[i])
			l += int64(data[i]) * int64(i)
		}
		for i := g + 1; i < 256; i++ {
			toth += int64(data[i])
			h += int64(data[i]) * int64(i)
		}
		if totl > 0 && toth > 0 {
			l /= totl
			h /= toth
			if int64(g) == int64(math.Round(float64(l+h)/2)) {
				break
			}
		}
		g++
		if g > 254 {
			return -1
		}
	}
	return g
}

func li(data []int) int {
	var numPixels, meanValue float64
	for i, v := range data {
		numPixels += float64(v)
		meanValue += float64(i) * float64(v)
	}
	if numPixels == 0 {
		return 0
	}
	meanValue /= numPixels
	const tolerance = 0.5
	newThresh := meanValue
	threshold := 0
	for iter := 0; iter < 1000; iter++ {
		oldThresh := newThresh
		threshold = int(oldThresh + 0.5)
		var sumBack, numBack, sumObj, numObj float64
		for i := 0; i <= threshold && i < 256; i++ {
			sumBack += float64(i) * float64(data[i])
			numBack += float64(data[i])
		}
		for i := threshold + 1; i < 256; i++ {
			sumObj += float64(i) * float64(data[i])
			numObj += float64(data[i])
		}
		meanBack, meanObj := 0.0, 0.0
		if numBack != 0 {
			meanBack = sumBack / numBack
		}
		if numObj != 0 {
			meanObj = sumObj / numObj
		}
		temp := (meanBack - meanObj) / (math.Log(meanBack) - math.Log(meanObj))
		if math.IsNaN(temp) || math.IsInf(temp, 0) {
			break
		}
		if temp < -2.220446049250313e-16 {
			newThresh = float64(int(temp - 0.5))
		} else {
			newThresh = float64(int(temp + 0.5))
		}
		if math.Abs(newThresh-oldThresh) <= tolerance {
			break
		}
	}
	return threshold
}

// maxEntropyLevel is Kapur's criterion, shared by MaxEntropy and Renyi.
func maxEntropyLevel(data []int, norm, p1, p2 []float64, first, last int) int {
	threshold := 0
	maxEnt := 0.0
	for it := first; it <= last; it++ {
		entBack := 0.0
		for i := 0; i <= it; i++ {
			if data[i] != 0 {
				entBack -= (norm[i] / p1[it]) * math.Log(norm[i]/p1[it])
			}
		}
		entObj := 0.0
		for i := it + 1; i < 256; i++ {
			if data[i] != 0 {
				entObj -= (norm[i] / p2[it]) * math.Log(norm[i]/p2[it])
			}
		}
		if tot := entBack + entObj; maxEnt < tot {
			maxEnt = tot
			threshold = it
		}
	}
	return threshold
}

func maxEntropy(data []int) int {
	norm, p1, p2, first, last := normalized(data)
	return maxEntropyLevel(data, norm, p1, p2, first, last)
}

func mean(data []int) int {
	var total, sum float64
	for i, v := range data {
		total += float64(v)
		sum += float64(i) * float64(v)
	}
	if total == 0 {
		return 0
	}
	return int(math.Floor(sum / total))
}

// minErrorI is the iterative Kittler-Illingworth minimum error method.
func minErrorI(data []int) int {
	threshold := mean(data)
	prev := -2
	aAll, bAll, cAll := partialSums(data, 255)
	for iter := 0; threshold != prev && iter < 10000; iter++ {
		a, b, c := partialSums(data, threshold)
		mu := b / a
		nu := (bAll - b) / (aAll - a)
		p := a / aAll
		q := (aAll - a) / aAll
		sigma2 := c/a - mu*mu
		tau2 := (cAll-c)/(aAll-a) - nu*nu
		w0 := 1/sigma2 - 1/tau2
		w1 := mu/sigma2 - nu/tau2
		w2 := mu*mu/sigma2 - nu*nu/tau2 + math.Log10((sigma2*q*q)/(tau2*p*p))
		sqterm := w1*w1 - w0*w2
		if sqterm < 0 {
			break
		}
		prev = threshold
		temp := (w1 + math.Sqrt(sqterm)) / w0
		if math.IsNaN(temp) || math.IsInf(temp, 0) {
			threshold = prev
		} else {
			threshold = int(math.Floor(temp))
		}
	}
	return threshold
}

func minimum(data []int) int {
	h := make([]float64, 256)
	top := -1
	for i, v := range data {
		h[i] = float64(v)
		if v > 0 {
			top = i
		}
	}
	t := make([]float64, 256)
	for iter := 0; !bimodal(h); iter++ {
		if iter > 10000 {
			return -1
		}
		for i := 1; i < 255; i++ {
			t[i] = (h[i-1] + h[i] + h[i+1]) / 3
		}
		t[0] = (h[0] + h[1]) / 3
		t[255] = (h[254] + h[255]) / 3
		copy(h, t)
	}
	for i := 1; i < top; i++ {
		if h[i-1] > h[i] && h[i+1] >= h[i] {
			return i
		}
	}
	return -1
}

func moments(data []int) int {
	total := 0.0
	for _, v := range data {
		total += float64(v)
	}
	if total == 0 {
		return 0
	}
	histo := make([]float64, 256)
	m0, m1, m2, m3 := 1.0, 0.0, 0.0, 0.0
	for i, v := range data {
		histo[i] = float64(v) / total
		di := float64(i)
		m1 += di * histo[i]
		m2 += di * di * histo[i]
		m3 += di * di * di * histo[i]
	}
	cd := m0*m2 - m1*m1
	c0 := (-m2*m2 + m1*m3) / cd
	c1 := (m0*-m3 + m2*m1) / cd
	z0 := 0.5 * (-c1 - math.Sqrt(c1*c1-4*c0))
	z1 := 0.5 * (-c1 + math.Sqrt(c1*c1-4*c0))
	p0 := (z1 - m1) / (z1 - z0)
	sum := 0.0
	for i := 0; i < 256; i++ {
		sum += histo[i]
		if sum > p0 {
			return i
		}
	}
	return -1
}

func otsu(data []int) int {
	total := 0.0
	for _, v := range data {
		total += float64(v)
	}
	if total == 0 {
		return 0
	}
	cnh := make([]float64, 256)
	meanLevel := make([]float64, 256)
	cnh[0] = float64(data[0]) / total
	for i := 1; i < 256; i++ {
		p := float64(data[i]) / total
		cnh[i] = cnh[i-1] + p
		meanLevel[i] = meanLevel[i-1] + float64(i)*p
	}
	totalMean := meanLevel[255]
	threshold := -1
	maxBCV := 0.0
	for i := 0; i < 256; i++ {
		bcv := totalMean*cnh[i] - meanLevel[i]
		bcv *= bcv / (cnh[i] * (1 - cnh[i]))
		if maxBCV < bcv {
			maxBCV = bcv
			threshold = i
		}
	}
	return threshold
}

func percentile(data []int) int {
	const ptile = 0.5
	total, _, _ := partialSums(data, 255)
	if total == 0 {
		return 0
	}
	threshold := -1
	best := 1.0
	running := 0.0
	for i := 0; i < 256; i++ {
		running += float64(data[i])
		if d := math.Abs(running/total - ptile); d < best {
			best = d
			threshold = i
		}
	}
	return threshold
}

func renyiEntropy(data []int) int {
	norm, p1, p2, first, last := normalized(data)
	tStar2 := maxEntropyLevel(data, norm, p1, p2, first, last)

	renyi := func(alpha float64) int {
		threshold := 0
		maxEnt := 0.0
		term := 1 / (1 - alpha)
		for it := first; it <= last; it++ {
			entBack, entObj := 0.0, 0.0
			for i := 0; i <= it; i++ {
				if alpha == 0.5 {
					entBack += math.Sqrt(norm[i] / p1[it])
				} else {
					entBack += norm[i] * norm[i] / (p1[it] * p1[it])
				}
			}
			for i := it + 1; i < 256; i++ {
				if alpha == 0.5 {
					entObj += math.Sqrt(norm[i] / p2[it])
				} else {
					entObj += norm[i] * norm[i] / (p2[it] * p2[it])
				}
			}
			tot := 0.0
			if entBack*entObj > 0 {
				tot = term * math.Log(entBack*entObj)
			}
			if tot > maxEnt {
				maxEnt = tot
				threshold = it
			}
		}
		return threshold
	}
	tStar1 := renyi(0.5)
	tStar3 := renyi(2.0)

	if tStar2 < tStar1 {
		tStar1, tStar2 = tStar2, tStar1
	}
	if tStar3 < tStar2 {
		tStar2, tStar3 = tStar3, tStar2
	}
	if tStar2 < tStar1 {
		tStar1, tStar2 = tStar2, tStar1
	}

	var beta1, beta2, beta3 float64
	abs := func(v int) int {
		if v < 0 {
			return -v
		}
		return v
	}
	if abs(tStar1-tStar2) <= 5 {
		if abs(tStar2-tStar3) <= 5 {
			beta1, beta2, beta3 = 1, 2, 1
		} else {
			beta1, beta2, beta3 = 0, 1, 3
		}
	} else {
		if abs(tStar2-tStar3) <= 5 {
			beta1, beta2, beta3 = 3, 1, 0
		} else {
			beta1, beta2, beta3 = 1, 2, 1
		}
	}
	omega := p1[tStar3] - p1[tStar1]
	return int(float64(tStar1)*(p1[tStar1]+0.25*omega*beta1) +
		0.25*float64(tStar2)*omega*beta2 +
		float64(tStar3)*(p2[tStar3]+0.25*omega*beta3))
}

func shanbhag(data []int) int {
	norm, p1, p2, first, last := normalized(data)
	threshold := -1
	minEnt := math.MaxFloat64
	for it := first; it <= last; it++ {
		entBack := 0.0
		term := 0.5 / p1[it]
		for i := 1; i <= it; i++ {
			entBack -= norm[i] * math.Log(1-term*p1[i-1])
		}
		entBack *= term

		entObj := 0.0
		term = 0.5 / p2[it]
		for i := it + 1; i < 256; i++ {
			entObj -= norm[i] * math.Log(1-term*p2[i])
		}
		entObj *= term

		if tot := math.Abs(entBack - entObj); tot < minEnt {
			minEnt = tot
			threshold = it
		}
	}
	return threshold
}

// triangle draws a line from the histogram peak to the far end of the
// longer tail and splits at the bin farthest below that line.
func triangle(data []int) int {
	n := len(data)
	lo, hi, peak, peakCount := 0, 0, 0, 0
	for i := 0; i < n; i++ {
		if data[i] > 0 {
			lo = i
			break
		}
	}
	if lo > 0 {
		lo--
	}
	for i := n - 1; i > 0; i-- {
		if data[i] > 0 {
			hi = i
			break
		}
	}
	if hi < n-1 {
		hi++
	}
	for i := 0; i < n; i++ {
		if data[i] > peakCount {
			peak = i
			peakCount = data[i]
		}
	}

	h := data
	inverted := false
	if peak-lo < hi-peak {
		inverted = true
		h = make([]int, n)
		for i := range data {
			h[i] = data[n-1-i]
		}
		lo = n - 1 - hi
		peak = n - 1 - peak
	}
	if lo == peak {
		if inverted {
			return n - 1 - lo
		}
		return lo
	}

	nx := float64(h[peak])
	ny := float64(lo - peak)
	d := math.Sqrt(nx*nx + ny*ny)
	nx /= d
	ny /= d
	d = nx*float64(lo) + ny*float64(h[lo])

	split := lo
	splitDistance := 0.0
	for i := lo + 1; i <= peak; i++ {
		if dist := nx*float64(i) + ny*float64(h[i]) - d; dist > splitDistance {
			split = i
			splitDistance = dist
		}
	}
	split--
	if inverted {
		return n - 1 - split
	}
	return split
}

func yen(data []int) int {
	total := 0.0
	for _, v := range data {
		total += float64(v)
	}
	if total == 0 {
		return 0
	}
	norm := make([]float64, 256)
	for i, v := range data {
		norm[i] = float64(v) / total
	}
	p1 := make([]float64, 256)
	p1Sq := make([]float64, 256)
	p2Sq := make([]float64, 256)
	p1[0] = norm[0]
	p1Sq[0] = norm[0] * norm[0]
	for i := 1; i < 256; i++ {
		p1[i] = p1[i-1] + norm[i]
		p1Sq[i] = p1Sq[i-1] + norm[i]*norm[i]
	}
	for i := 254; i >= 0; i-- {
		p2Sq[i] = p2Sq[i+1] + norm[i+1]*norm[i+1]
	}
	logOrZero := func(v float64) float64 {
		if v > 0 {
			return math.Log(v)
		}
		return 0
	}
	threshold := -1
	maxCrit := math.SmallestNonzeroFloat64
	for it := 0; it < 256; it++ {
		crit := -logOrZero(p1Sq[it]*p2Sq[it]) + 2*logOrZero(p1[it]*(1-p1[it]))
		if crit > maxCrit {
			maxCrit = crit
			threshold = it
		}
	}
	return threshold
}
