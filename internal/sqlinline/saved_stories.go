package sqlinline

const QSavedStoryExists = `--sql 3f6b2d09-8e4a-4c1d-9b57-d24f0a61c58e
select exists (select 1 from saved_stories where id = $1);
`

const QInsertSavedStory = `--sql b81c7a44-52d6-4f0b-8a9e-30c2e94d7f15
insert into saved_stories (id, title, grade_level, scene_count, reconstructed, payload)
values ($1, $2, $3, $4, $5, $6);
`
