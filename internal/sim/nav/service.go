package nav

import (
	"errors"
	"log"
	"sync"

	"mobsim.dev/internal/sim/geo"
)

var (
	// ErrUnreachable means no route exists between the endpoints.
	ErrUnreachable = errors.New("nav: unreachable")
	// ErrBusy means the compute queue was full and the request was shed.
	ErrBusy = errors.New("nav: compute queue full")
)

// Pathfinder computes routes. It never moves anything; callers walk the
// returned waypoints themselves.
type Pathfinder interface {
	FindPath(start, target geo.Vec3) ([]Waypoint, error)
}

// Request asks for one route computation on behalf of an agent. Version
// tags the request so stale completions can be discarded by the consumer.
type Request struct {
	AgentID string
	Version uint64
	From    geo.Vec3
	To      geo.Vec3
}

// Result carries a completed computation back to the requesting loop.
type Result struct {
	AgentID   string
	Version   uint64
	Waypoints []Waypoint
	Err       error
}

// Service runs route computations on a small worker pool so the simulation
// tick never blocks on pathfinding.
type Service struct {
	pf  Pathfinder
	log *log.Logger

	reqs chan serviceReq
	wg   sync.WaitGroup
	once sync.Once
}

type serviceReq struct {
	req Request
	out chan<- Result
}

func NewService(pf Pathfinder, workers int, logger *log.Logger) *Service {
	if workers <= 0 {
		workers = 2
	}
	s := &Service{
		pf:   pf,
		log:  logger,
		reqs: make(chan serviceReq, 256),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker()
		}()
	}
	return s
}

func (s *Service) worker() {
	for sr := range s.reqs {
		wps, err := s.pf.FindPath(sr.req.From, sr.req.To)
		res := Result{AgentID: sr.req.AgentID, Version: sr.req.Version, Waypoints: wps, Err: err}
		select {
		case sr.out <- res:
		default:
			// Consumer backlogged; the adapter treats the missing result
			// as a transient failure on its next request.
			if s.log != nil {
				s.log.Printf("nav: dropped result for %s v%d", sr.req.AgentID, sr.req.Version)
			}
		}
	}
}

// Submit queues a computation. The result lands on out later, or ErrBusy is
// returned immediately when the queue is full.
func (s *Service) Submit(req Request, out chan<- Result) error {
	select {
	case s.reqs <- serviceReq{req: req, out: out}:
		return nil
	default:
		return ErrBusy
	}
}

func (s *Service) Close() {
	s.once.Do(func() {
		close(s.reqs)
		s.wg.Wait()
	})
}
