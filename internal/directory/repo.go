package directory

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rfidmonitor/internal/store"
)

// Repo loads and maintains the student and course reference tables.
type Repo struct {
	db    *sql.DB
	redis *store.Redis
}

// NewRepo creates a repo over an open database handle.
func NewRepo(db *sql.DB, r *store.Redis) *Repo {
	return &Repo{db: db, redis: r}
}

// ListStudents returns all registered students.
func (r *Repo) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, first_name, last_name, course, rfid_tag, COALESCE(profile_image_url, '')
		FROM students
		ORDER BY student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.StudentID, &s.FirstName, &s.LastName, &s.Course, &s.RFIDTag, &s.ProfileImageURL); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListCourses returns all courses.
func (r *Repo) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, course_name FROM courses ORDER BY course_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.CourseID, &c.CourseName); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpsertStudent creates or updates a student keyed by student_id and notifies
// watchers so caches refresh.
func (r *Repo) UpsertStudent(ctx context.Context, s Student) (Student, error) {
	if s.StudentID == "" || s.RFIDTag == "" {
		return Student{}, errors.New("directory: student id and rfid tag required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, student_id, first_name, last_name, course, rfid_tag, profile_image_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (student_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			course = EXCLUDED.course,
			rfid_tag = EXCLUDED.rfid_tag,
			profile_image_url = EXCLUDED.profile_image_url
	`, s.ID, s.StudentID, s.FirstName, s.LastName, s.Course, s.RFIDTag, s.ProfileImageURL)
	if err != nil {
		return Student{}, err
	}
	r.notify(ctx)
	return s, nil
}

// UpsertCourse creates or updates a course keyed by course_id.
func (r *Repo) UpsertCourse(ctx context.Context, c Course) (Course, error) {
	if c.CourseID == "" {
		return Course{}, errors.New("directory: course id required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courses (id, course_id, course_name)
		VALUES ($1,$2,$3)
		ON CONFLICT (course_id) DO UPDATE SET course_name = EXCLUDED.course_name
	`, c.ID, c.CourseID, c.CourseName)
	if err != nil {
		return Course{}, err
	}
	r.notify(ctx)
	return c, nil
}

// Refresh loads both reference tables into the directory.
func (r *Repo) Refresh(ctx context.Context, d *Directory) error {
	students, err := r.ListStudents(ctx)
	if err != nil {
		return err
	}
	courses, err := r.ListCourses(ctx)
	if err != nil {
		return err
	}
	d.SetStudents(students)
	d.SetCourses(courses)
	return nil
}

// Watch keeps the directory fresh until ctx is canceled, waking on
// invalidation messages with a polling fallback.
func (r *Repo) Watch(ctx context.Context, d *Directory, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	var pubsub *redis.PubSub
	var wake <-chan *redis.Message
	if r.redis != nil && r.redis.Client != nil {
		pubsub = r.redis.Client.Subscribe(ctx, store.ChannelDirectory)
		wake = pubsub.Channel()
		defer pubsub.Close()
	}

	refresh := func() {
		if err := r.Refresh(ctx, d); err != nil && ctx.Err() == nil {
			log.Printf("directory refresh failed: %v", err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			refresh()
		}
	}
}

func (r *Repo) notify(ctx context.Context) {
	if r.redis != nil {
		r.redis.Notify(ctx, store.ChannelDirectory, "changed")
	}
}
