package density

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// lrdEpsilon keeps the local reachability density finite when a point's
// neighbours all share its coordinates.
const lrdEpsilon = 1e-10

// site is a candidate point in the scaled (along-track, elevation) plane.
type site struct {
	x, y float64
	id   int
}

func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(site)
	if d == 0 {
		return s.x - q.x
	}
	return s.y - q.y
}

func (s site) Dims() int { return 2 }

// Distance returns the squared Euclidean distance, as kdtree expects.
func (s site) Distance(c kdtree.Comparable) float64 {
	q := c.(site)
	dx, dy := s.x-q.x, s.y-q.y
	return dx*dx + dy*dy
}

// sites implements kdtree.Interface.
type sites []site

func (s sites) Index(i int) kdtree.Comparable { return s[i] }
func (s sites) Len() int                      { return len(s) }
func (s sites) Slice(start, end int) kdtree.Interface {
	return s[start:end]
}
func (s sites) Pivot(d kdtree.Dim) int {
	// Median of medians keeps tree construction deterministic.
	p := plane{sites: s, dim: d}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// plane sorts sites along one dimension for pivoting.
type plane struct {
	sites
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	if p.dim == 0 {
		return p.sites[i].x < p.sites[j].x
	}
	return p.sites[i].y < p.sites[j].y
}
func (p plane) Swap(i, j int) { p.sites[i], p.sites[j] = p.sites[j], p.sites[i] }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{sites: p.sites[start:end], dim: p.dim}
}

type neighbour struct {
	id   int
	dist float64
}

// nearest returns the k nearest neighbours of every site, excluding the site
// itself, ordered by increasing distance then id. When several sites tie at
// the k-th distance, the kd-tree traversal decides which of them are kept.
func nearest(pts []site, k int) [][]neighbour {
	// kdtree.New reorders its input, so build from a copy.
	tree := kdtree.New(append(sites(nil), pts...), false)

	out := make([][]neighbour, len(pts))
	for _, p := range pts {
		keep := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keep, p)

		found := make([]neighbour, 0, k+1)
		for _, c := range keep.Heap {
			if c.Comparable == nil {
				continue
			}
			found = append(found, neighbour{id: c.Comparable.(site).id, dist: math.Sqrt(c.Dist)})
		}
		sort.Slice(found, func(i, j int) bool {
			if found[i].dist != found[j].dist {
				return found[i].dist < found[j].dist
			}
			return found[i].id < found[j].id
		})

		nb := make([]neighbour, 0, k)
		self := false
		for _, f := range found {
			if f.id == p.id && !self {
				self = true
				continue
			}
			nb = append(nb, f)
		}
		if len(nb) > k {
			nb = nb[:k]
		}
		out[p.id] = nb
	}
	return out
}

// negativeOutlierFactor computes -LOF for each site using its k nearest
// neighbours. Values near -1 are inliers; more negative values are outliers.
// Requires len(pts) > k >= 1 and pts[i].id == i.
func negativeOutlierFactor(pts []site, k int) []float64 {
	nbrs := nearest(pts, k)

	kdist := make([]float64, len(pts))
	for i, nb := range nbrs {
		kdist[i] = nb[len(nb)-1].dist
	}

	lrd := make([]float64, len(pts))
	for i, nb := range nbrs {
		var sum float64
		for _, o := range nb {
			sum += math.Max(kdist[o.id], o.dist)
		}
		lrd[i] = 1 / (sum/float64(len(nb)) + lrdEpsilon)
	}

	scores := make([]float64, len(pts))
	for i, nb := range nbrs {
		var sum float64
		for _, o := range nb {
			sum += lrd[o.id]
		}
		scores[i] = -(sum / float64(len(nb))) / lrd[i]
	}
	return scores
}
